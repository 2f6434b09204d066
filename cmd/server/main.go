package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/sketch-sync/pkg/engine"
	"github.com/astromechza/sketch-sync/pkg/registry"
	"github.com/astromechza/sketch-sync/pkg/store"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "localhost:8080", "the address to listen on")
	dbVar := flag.String("db", "sketch-sync.sqlite3", "the sqlite database file backing the increment log")
	flag.Parse()

	slog.Info("Opening database")
	repository, err := store.OpenSQLite(*dbVar)
	if err != nil {
		return err
	}
	defer repository.Close()

	s := &server{
		repository: repository,
		engine:     engine.New(repository, registry.New()),
	}

	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/version").HandlerFunc(s.getVersion)
	r.Methods(http.MethodGet).Path("/sync").HandlerFunc(s.sync)

	httpServer := &http.Server{Addr: *addrVar, Handler: r}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	_ = httpServer.Close()
	s.engine.Shutdown()

	wg.Wait()
	return nil
}

type server struct {
	repository *store.SQLiteRepository
	engine     *engine.Engine
}

func (s *server) getVersion(writer http.ResponseWriter, request *http.Request) {
	version, err := s.repository.LastVersion()
	if err != nil {
		slog.Error("failed to read version", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(map[string]interface{}{
		"version": version,
	}); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *server) sync(writer http.ResponseWriter, request *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	s.engine.Serve(engine.NewWebsocketSession(conn))
}
