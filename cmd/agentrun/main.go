// Command agentrun hosts the tool execution runtime: it registers the
// built-in tools, wires provider integrations, and serves tool invocation and
// inbound webhook endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/quorumhq/agentrun/config"
	memorymongo "github.com/quorumhq/agentrun/features/memory/mongo"
	"github.com/quorumhq/agentrun/features/stream/pulse"
	"github.com/quorumhq/agentrun/features/tools/agentmsg"
	"github.com/quorumhq/agentrun/features/tools/approval"
	"github.com/quorumhq/agentrun/features/tools/httpcall"
	"github.com/quorumhq/agentrun/features/tools/memorytool"
	"github.com/quorumhq/agentrun/features/tools/websearch"
	"github.com/quorumhq/agentrun/integrations"
	"github.com/quorumhq/agentrun/integrations/credentials"
	credentialsinmem "github.com/quorumhq/agentrun/integrations/credentials/inmem"
	credentialsmongo "github.com/quorumhq/agentrun/integrations/credentials/mongo"
	"github.com/quorumhq/agentrun/integrations/github"
	"github.com/quorumhq/agentrun/integrations/webhook"
	"github.com/quorumhq/agentrun/runtime/agent/memory"
	memoryinmem "github.com/quorumhq/agentrun/runtime/agent/memory/inmem"
	"github.com/quorumhq/agentrun/runtime/agent/observe"
	"github.com/quorumhq/agentrun/runtime/agent/runstore"
	runstoreinmem "github.com/quorumhq/agentrun/runtime/agent/runstore/inmem"
	runstoremongo "github.com/quorumhq/agentrun/runtime/agent/runstore/mongo"
	"github.com/quorumhq/agentrun/runtime/agent/telemetry"
	"github.com/quorumhq/agentrun/runtime/toolregistry"
	"github.com/quorumhq/agentrun/runtime/toolregistry/executor"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to YAML configuration (empty uses defaults)")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewClueTracer()

	// Durable stores. Mongo when configured, in-memory otherwise.
	var (
		credStore credentials.Store
		memStore  memory.Store
		runStore  runstore.Store
		pingers   []health.Pinger
	)
	if cfg.Mongo.URI != "" {
		mc, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			log.Fatal(ctx, err)
		}
		defer func() {
			if err := mc.Disconnect(context.Background()); err != nil {
				log.Errorf(ctx, err, "mongo disconnect")
			}
		}()
		cs, err := credentialsmongo.New(credentialsmongo.Options{
			Client:   mc,
			Database: cfg.Mongo.Database,
			Timeout:  cfg.Mongo.Timeout,
		})
		if err != nil {
			log.Fatal(ctx, err)
		}
		ms, err := memorymongo.New(memorymongo.Options{
			Client:   mc,
			Database: cfg.Mongo.Database,
			Timeout:  cfg.Mongo.Timeout,
		})
		if err != nil {
			log.Fatal(ctx, err)
		}
		rs, err := runstoremongo.New(runstoremongo.Options{
			Client:   mc,
			Database: cfg.Mongo.Database,
			Timeout:  cfg.Mongo.Timeout,
		})
		if err != nil {
			log.Fatal(ctx, err)
		}
		credStore, memStore, runStore = cs, ms, rs
		pingers = append(pingers, cs, ms, rs)
	} else {
		credStore = credentialsinmem.New()
		memStore = memoryinmem.New()
		runStore = runstoreinmem.New()
		log.Print(ctx, log.KV{K: "msg", V: "no mongo configured, using in-memory stores"})
	}

	// Provider integrations.
	registry := integrations.NewRegistry()
	if ghCfg, ok := cfg.Integrations[github.ProviderID.String()]; ok {
		var refresher credentials.Refresher
		if ghCfg.ClientID != "" {
			refresher = github.NewTokenRefresher(ghCfg.ClientID, ghCfg.ClientSecret)
		}
		manager := credentials.NewManager(credStore, refresher, credentials.WithLogger(logger))
		gh, err := github.New(integrations.Config{
			Provider:      github.ProviderID,
			CredentialRef: ghCfg.CredentialRef,
			Settings:      ghCfg.Settings,
		}, ghCfg.WebhookSecret, manager, github.WithLogger(logger))
		if err != nil {
			log.Fatal(ctx, err)
		}
		if err := registry.Register(gh); err != nil {
			log.Fatal(ctx, err)
		}
	}

	// Built-in tools.
	tools := toolregistry.New()
	httpTool := httpcall.New()
	if err := tools.Register(httpTool.Describe(), httpTool); err != nil {
		log.Fatal(ctx, err)
	}
	if cfg.Search.Endpoint != "" {
		ws, err := websearch.New(cfg.Search.Endpoint)
		if err != nil {
			log.Fatal(ctx, err)
		}
		if err := tools.Register(ws.Describe(), ws); err != nil {
			log.Fatal(ctx, err)
		}
	}
	saveTool := memorytool.NewSave(memStore)
	if err := tools.Register(saveTool.Describe(), saveTool); err != nil {
		log.Fatal(ctx, err)
	}
	searchTool := memorytool.NewSearch(memStore)
	if err := tools.Register(searchTool.Describe(), searchTool); err != nil {
		log.Fatal(ctx, err)
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		defer rdb.Close()
		pc, err := pulse.New(pulse.Options{Redis: rdb, StreamMaxLen: cfg.Redis.StreamMaxLen})
		if err != nil {
			log.Fatal(ctx, err)
		}
		msg, err := agentmsg.New(pc)
		if err != nil {
			log.Fatal(ctx, err)
		}
		if err := tools.Register(msg.Describe(), msg); err != nil {
			log.Fatal(ctx, err)
		}
	}
	decider := approval.NewChannelDecider(16)
	go logApprovalRequests(ctx, decider)
	approvalTool, err := approval.New(decider)
	if err != nil {
		log.Fatal(ctx, err)
	}
	if err := tools.Register(approvalTool.Describe(), approvalTool); err != nil {
		log.Fatal(ctx, err)
	}

	// Observability.
	observer, err := observe.New(observe.Config{
		Backend: cfg.Observer.Backend,
		Tracer:  tracer,
		Store:   runStore,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	exec := executor.New(tools,
		executor.WithIntegrations(registry),
		executor.WithObserver(observer),
		executor.WithLogger(logger),
		executor.WithTracer(tracer),
	)
	dispatcher := webhook.NewDispatcher(registry,
		webhook.WithLogger(logger),
		webhook.WithTracer(tracer),
	)

	// HTTP surface.
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", gin.WrapH(health.Handler(health.NewChecker(pingers...))))
	mountAPI(router, exec, tools, observer, runStore, dispatcher)

	srv := &http.Server{
		Addr:              cfg.Webhook.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Print(ctx, log.KV{K: "msg", V: "listening"}, log.KV{K: "addr", V: cfg.Webhook.Addr})
		errc <- srv.ListenAndServe()
	}()

	stop, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	select {
	case <-stop.Done():
		log.Print(ctx, log.KV{K: "msg", V: "shutting down"})
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf(ctx, err, "server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf(ctx, err, "http shutdown")
	}
	if err := observer.Shutdown(shutdownCtx); err != nil {
		log.Errorf(ctx, err, "observer shutdown")
	}
}

// logApprovalRequests surfaces pending approval requests in the logs until an
// operator surface consumes them directly.
func logApprovalRequests(ctx context.Context, d *approval.ChannelDecider) {
	for req := range d.Requests() {
		log.Print(ctx,
			log.KV{K: "msg", V: "approval requested"},
			log.KV{K: "request_id", V: req.ID},
			log.KV{K: "run_id", V: req.RunID},
			log.KV{K: "agent_id", V: req.AgentID},
			log.KV{K: "action", V: req.Action},
		)
	}
}
