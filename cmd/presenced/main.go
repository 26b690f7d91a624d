package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"sort"

	"github.com/bmizerany/pat"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sireax/presence"
	"github.com/sireax/presence/config"
)

var configPath = flag.String("config", "config.yml", "path to configuration file")

func logLevel(name string) presence.LogLevel {
	switch name {
	case "debug":
		return presence.LogLevelDebug
	case "warn":
		return presence.LogLevelWarn
	case "error":
		return presence.LogLevelError
	default:
		return presence.LogLevelInfo
	}
}

func handleLog(e presence.LogEntry) {
	log.Printf("%s: %v", e.Message, e.Fields)
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	level := logLevel(cfg.LogLevel)

	transport, err := presence.NewRedisTransport(presence.RedisTransportConfig{
		Host:       cfg.Redis.Host,
		Port:       cfg.Redis.Port,
		LogLevel:   level,
		LogHandler: handleLog,
	})
	if err != nil {
		log.Fatal(err)
	}

	engine := presence.NewEngine(presence.Config{
		Name:       "presenced",
		LogLevel:   level,
		LogHandler: handleLog,
	}, transport)

	wsHandler := newWebsocketHandler(engine)

	mux := pat.New()
	mux.Get("/teams/:id/online", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleOnline(engine, w, r)
	}))
	mux.Get("/ws/:id", wsHandler)
	mux.Get("/metrics", promhttp.Handler())

	http.Handle("/", mux)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	log.Println("presenced listening on", addr)

	err = http.ListenAndServe(addr, nil)
	if err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

// handleOnline opens (idempotently) an observer session for the team and
// returns its current online set. The observer announcement carries no
// member id, so the daemon itself never appears in anyone's online set.
func handleOnline(engine *presence.Engine, w http.ResponseWriter, r *http.Request) {
	teamID := r.URL.Query().Get(":id")
	if teamID == "" {
		http.Error(w, "team id required", http.StatusBadRequest)
		return
	}

	engine.Open(teamID, presence.PresencePayload{TeamID: teamID})

	online := engine.OnlineIDs(teamID)
	ids := make([]string, 0, len(online))
	for id := range online {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(onlineMessage{Team: teamID, Online: ids})
}
