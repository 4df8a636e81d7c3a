package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cyclehub/rental-backend/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS layer for the REST surface;
	// the live stream carries no mutations, so any origin may watch.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (a *API) liveHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorContext(c, "websocket upgrade failed", "error", err)
		return
	}

	a.hub.Serve(conn)
}
