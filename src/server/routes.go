package server

import (
	"github.com/cipherpad/engine/src/handlers"
	"github.com/cipherpad/engine/src/middleware"
)

// SetupRoutes binds the §6 command table to the router, guarded by the
// vault-state middleware each command needs.
func (s *Server) SetupRoutes() {
	s.router.GET("/healthz", handlers.Health(s.sess))

	v1 := s.router.Group("/api/v1/cipherpad")

	v1.POST("/open", handlers.OpenHandler(s.sess, s.logger))
	v1.POST("/unlock",
		middleware.RequireStoreOpen(s.sess),
		handlers.UnlockHandler(s.sess, s.logger),
	)

	unlocked := v1.Group("/")
	unlocked.Use(middleware.RequireStoreOpen(s.sess), middleware.RequireUnlocked(s.sess))
	{
		unlocked.GET("/tree", handlers.GetNodeTreeHandler(s.sess))
		unlocked.GET("/pads", handlers.GetPadMapHandler(s.sess))
		unlocked.POST("/pads", handlers.CreatePadHandler(s.sess, s.logger))
		unlocked.PUT("/pads/:id", handlers.UpdatePadHandler(s.sess, s.logger))
		unlocked.DELETE("/pads/:id", handlers.DeletePadHandler(s.sess, s.logger))
		unlocked.POST("/pads/:id/file", handlers.EncryptFileToPadHandler(s.sess, s.logger))
		unlocked.GET("/pads/:id/file", handlers.DecryptPadToFileHandler(s.sess, s.logger))
		unlocked.GET("/pads/:id/blob", handlers.DecryptPadToBlobHandler(s.sess, s.logger))
		unlocked.GET("/pads/:id/text", handlers.DecryptPadHandler(s.sess, s.logger))
	}
}
