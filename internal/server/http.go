package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/DominicWuest/backbuild/pkg/backbuild"
	"github.com/gin-gonic/gin"
)

type httpServer struct {
	source StatusSource
}

func (h *httpServer) Init(port int, source StatusSource) error {
	h.source = source

	router := gin.New()
	router.Use(gin.Recovery())
	// Requests are only logged in debug mode
	if gin.IsDebugging() {
		router.Use(gin.Logger())
	}

	router.GET("/status", h.getStatus)
	router.GET("/builds", h.getBuilds)
	router.GET("/builds/:commit", h.getBuild)

	// Listen before returning so a port in use is reported to the caller
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return errors.Join(fmt.Errorf("failed to listen on port %d", port), err)
	}

	go router.RunListener(listener)
	return nil
}

type buildResponse struct {
	Commit   string `json:"commit"`
	Success  bool   `json:"success"`
	Finished string `json:"finished"` // RFC3339
}

func toBuildResponse(build backbuild.FinishedBuild) buildResponse {
	return buildResponse{
		Commit:   build.Commit.String(),
		Success:  build.Success,
		Finished: build.Finished.Format(time.RFC3339),
	}
}

func (h *httpServer) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.source.Status())
}

func (h *httpServer) getBuilds(c *gin.Context) {
	recent := h.source.Status().Recent
	builds := make([]buildResponse, 0, len(recent))
	for _, build := range recent {
		builds = append(builds, toBuildResponse(build))
	}
	c.JSON(http.StatusOK, builds)
}

func (h *httpServer) getBuild(c *gin.Context) {
	commit := c.Param("commit")
	for _, build := range h.source.Status().Recent {
		if build.Commit.String() == commit {
			c.JSON(http.StatusOK, toBuildResponse(build))
			return
		}
	}
	c.AbortWithStatus(http.StatusNotFound)
}
