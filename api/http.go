package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/streamplex/transcode-api/config"
	"github.com/streamplex/transcode-api/handlers"
	"github.com/streamplex/transcode-api/log"
	"github.com/streamplex/transcode-api/middleware"
	"github.com/streamplex/transcode-api/pipeline"
	"github.com/streamplex/transcode-api/scheduler"
	"github.com/streamplex/transcode-api/store"
	"github.com/streamplex/transcode-api/transcode"
)

func ListenAndServe(ctx context.Context, addr string, s store.Store, sched *scheduler.Scheduler, coordinator *pipeline.Coordinator, encoder *transcode.Encoder, layout transcode.Layout) error {
	router := NewTranscodeAPIRouter(s, sched, coordinator, encoder, layout)
	server := http.Server{Addr: addr, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoRequestID(
		"Starting Transcode API!",
		"version", config.Version,
		"host", addr,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewTranscodeAPIRouter(s store.Store, sched *scheduler.Scheduler, coordinator *pipeline.Coordinator, encoder *transcode.Encoder, layout transcode.Layout) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest(config.Logger)
	capacity := &middleware.CapacityMiddleware{}

	apiHandlers := &handlers.TranscodeAPIHandlersCollection{
		Store:     s,
		Scheduler: sched,
		Pipeline:  coordinator,
		Layout:    layout,
	}
	playbackHandlers := &handlers.PlaybackHandlersCollection{
		Store:     s,
		Scheduler: sched,
		Layout:    layout,
	}

	// Simple endpoint for healthchecks
	router.GET("/ok", withLogging(apiHandlers.Ok()))

	// Catalog management API
	router.POST("/api/video", withLogging(apiHandlers.RegisterVideo()))
	router.GET("/api/video/:id", withLogging(apiHandlers.GetVideo()))
	router.POST("/api/video/:id/preview", withLogging(apiHandlers.ReencodePreview()))
	router.DELETE("/api/video/:id", withLogging(apiHandlers.DeleteVideo()))

	// Player-facing media. Playlist and segment names live under the same
	// path shape, so a single route serves both and the handler dispatches
	// on the file name.
	router.GET("/video/:id/:resolution/:file",
		withLogging(
			capacity.HasCapacity(
				encoder,
				playbackHandlers.Media(),
			),
		),
	)
	router.GET("/preview/:id/:file", withLogging(playbackHandlers.Preview()))
	router.GET("/thumbnail/:folder/thumbnail.jpg", withLogging(playbackHandlers.Thumbnail()))

	return router
}
