package mutegrid

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IDisposable/mutegrid/internal/mute"
)

// controlSurface is what the HTTP and websocket layers need from a bank
// manager or a conductor.
type controlSurface interface {
	Control(name string) (*mute.Field, bool)
	ControlNames() []string
	Events() *mute.EventBroadcaster
}

// setupRouter builds the HTTP control surface: health, metrics, the named
// control set, and the websocket endpoint.
func setupRouter(surface controlSurface) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/controls", func(c *gin.Context) {
			values := make(map[string]string)
			for _, name := range surface.ControlNames() {
				if f, ok := surface.Control(name); ok {
					values[name] = f.Value()
				}
			}
			c.JSON(http.StatusOK, values)
		})

		api.GET("/controls/:name", func(c *gin.Context) {
			f, ok := surface.Control(c.Param("name"))
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": mute.ErrUnknownControl.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"name": f.Name(), "value": f.Value()})
		})

		api.POST("/controls/:name", func(c *gin.Context) {
			f, ok := surface.Control(c.Param("name"))
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": mute.ErrUnknownControl.Error()})
				return
			}
			var body struct {
				Value string `json:"value"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			f.Set(body.Value)
			c.JSON(http.StatusOK, gin.H{"name": f.Name(), "value": f.Value()})
		})
	}

	router.GET("/websocket", func(c *gin.Context) {
		handleWebSocket(surface, c)
	})

	return router
}
