// Package agent composes C1-C9 into one running process per spec §6's CLI
// surface: resolve identity, build the role-specific scheduler dependency
// graph, reconcile local state against the marketplace, and run the
// heartbeat until the process is asked to stop.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.uber.org/zap"

	"github.com/karmacadabra/agent/internal/chat"
	"github.com/karmacadabra/agent/internal/config"
	"github.com/karmacadabra/agent/internal/escrow"
	"github.com/karmacadabra/agent/internal/facilitator"
	"github.com/karmacadabra/agent/internal/httpclient"
	"github.com/karmacadabra/agent/internal/identity"
	"github.com/karmacadabra/agent/internal/logx"
	"github.com/karmacadabra/agent/internal/marketplace"
	"github.com/karmacadabra/agent/internal/payment"
	"github.com/karmacadabra/agent/internal/reputation"
	"github.com/karmacadabra/agent/internal/scheduler"
	"github.com/karmacadabra/agent/internal/store"
	"github.com/karmacadabra/agent/internal/telemetry"
)

// Agent is one fully-wired agent process: an identity, a local store, and
// a heartbeat scheduler driving a single role runner.
type Agent struct {
	log *logx.Logger

	scheduler  *scheduler.Scheduler
	reputation *reputation.Scheduler // nil when no reputation registry is configured
	dailyReset *scheduler.DailyResetScheduler
	chatConn   *chat.Conn // nil when chat is not configured

	debugServer *http.Server
}

// New builds an Agent from cfg, resolving identity, wiring every component
// spec §4.8's role plan needs, and reconciling local escrow state against
// the marketplace before the first tick.
func New(ctx context.Context, cfg *config.Config) (*Agent, error) {
	log := logx.New(cfg.Name, cfg.Logging.Level, cfg.Logging.Format)

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var identityRegistry identity.Registry
	if cfg.Chain.RPCURL != "" && cfg.Chain.IdentityRegistry != "" {
		reg, err := identity.NewEVMRegistry(cfg.Chain.RPCURL, common.HexToAddress(cfg.Chain.IdentityRegistry), cfg.Chain.ChainID)
		if err != nil {
			return nil, fmt.Errorf("dial identity registry: %w", err)
		}
		identityRegistry = reg
	}
	resolver := identity.NewResolver(identityRegistry)
	handle, err := resolver.Resolve(ctx, identity.Config{
		Name:            cfg.Name,
		PrivateKeyHex:   cfg.Identity.PrivateKeyHex,
		SwarmSeedPath:   cfg.Identity.SwarmSeedPath,
		DerivationIndex: cfg.Identity.DerivationIndex,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	metrics := telemetry.New(cfg.Name)

	httpClient := httpclient.New(cfg.Marketplace.RequestTimeout)
	market := marketplace.New(marketplace.Config{
		BaseURL:        cfg.Marketplace.BaseURL,
		WalletAddress:  handle.Address.Hex(),
		RequestTimeout: cfg.Marketplace.RequestTimeout,
		CallSpacing:    cfg.Marketplace.CallSpacing,
		MinBounty:      cfg.Marketplace.MinBounty,
	}, httpClient, zap.NewNop())

	nonces, err := st.NonceSeenSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore nonce set: %w", err)
	}
	domain := payment.Domain{
		TokenContract: common.HexToAddress(cfg.Chain.TokenAddress),
		ChainID:       cfg.Chain.ChainID,
		TokenName:     cfg.Chain.TokenName,
		Version:       cfg.Chain.TokenVersion,
	}
	signer := payment.NewSigner(domain)
	verifier := payment.NewVerifier(domain, store.NewRestoredNonceStore(nonces))
	facilitatorClient := facilitator.New(cfg.Facilitator.URL, httpClient, verifier)

	machine := escrow.NewMachine(st)

	if err := st.Reconcile(ctx, remoteStateFetcher{market}); err != nil {
		log.WithError(err).Warn("startup reconciliation failed, continuing with local state")
	}

	var repCache *reputation.Cache
	var repScheduler *reputation.Scheduler
	if cfg.Chain.ReputationRegistry != "" && cfg.Chain.RPCURL != "" {
		onChain, err := reputation.NewEVMRegistry(cfg.Chain.RPCURL, common.HexToAddress(cfg.Chain.ReputationRegistry))
		if err != nil {
			return nil, fmt.Errorf("dial reputation registry: %w", err)
		}
		source := reputation.NewCompositeSource(onChain, st)
		repCache = reputation.NewCache(source)
		repScheduler, err = reputation.NewScheduler(repCache, cfg.ReputationRefreshCron, knownCounterparties(st))
		if err != nil {
			return nil, fmt.Errorf("build reputation scheduler: %w", err)
		}
	} else {
		repCache = reputation.NewCache(reputation.NewCompositeSource(nil, st))
	}

	var chatConn *chat.Conn
	if cfg.Chat.ServerAddr != "" {
		conn, err := chat.Dial(ctx, chat.Config{
			ServerAddr:  cfg.Chat.ServerAddr,
			InsecureTLS: cfg.Chat.InsecureTLS,
			Logger:      chatLogger(cfg.Name),
		})
		if err != nil {
			log.WithError(err).Warn("chat dial failed, continuing without chat")
		} else {
			if err := conn.Join(cfg.Chat.Channel); err != nil {
				log.WithError(err).Warn("chat join failed, continuing without chat")
			} else {
				chatConn = conn
			}
		}
	}

	budget := scheduler.NewBudget(cfg.DailyBudget, cfg.PauseThreshold)
	dailyReset, err := scheduler.NewDailyResetScheduler(budget)
	if err != nil {
		return nil, fmt.Errorf("build daily reset scheduler: %w", err)
	}

	var broadcaster *chat.Broadcaster
	if cfg.Role == config.RoleCoordinator && chatConn != nil {
		broadcaster = chat.NewBroadcaster(handle.Name, chatLogger(handle.Name))
	}

	runner, err := buildRoleRunner(cfg, roleDeps{
		handle:      handle,
		market:      market,
		machine:     machine,
		store:       st,
		chat:        chatConn,
		signer:      signer,
		facilitator: facilitatorClient,
		budget:      budget,
		reputation:  repCache,
		broadcaster: broadcaster,
	})
	if err != nil {
		return nil, err
	}

	sched := scheduler.NewScheduler(cfg.TickInterval, runner, st, log, metrics)

	a := &Agent{
		log:        log,
		scheduler:  sched,
		reputation: repScheduler,
		dailyReset: dailyReset,
		chatConn:   chatConn,
	}
	if cfg.Debug.Addr != "" {
		a.debugServer = a.newDebugServer(cfg.Debug.Addr, broadcaster)
	}
	return a, nil
}

// Run starts the daily reset cadence, the reputation refresh cadence (if
// configured), the optional debug listener, and then blocks running the
// heartbeat scheduler until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) {
	a.dailyReset.Start()
	defer a.dailyReset.Stop()

	if a.reputation != nil {
		a.reputation.Start()
		defer a.reputation.Stop()
	}

	if a.debugServer != nil {
		go func() {
			if err := a.debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.WithError(err).Warn("debug listener stopped")
			}
		}()
		defer a.debugServer.Close()
	}

	if a.chatConn != nil {
		defer a.chatConn.Close()
	}

	a.scheduler.Run(ctx)
}

// Stop requests the heartbeat scheduler to halt after its current tick.
func (a *Agent) Stop() {
	a.scheduler.Stop()
}

func (a *Agent) newDebugServer(addr string, broadcaster *chat.Broadcaster) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	if broadcaster != nil {
		mux.Handle("/ws/health", broadcaster)
	}
	return &http.Server{Addr: addr, Handler: mux}
}

// chatLogger builds the connection-level zerolog.Logger C6's transport
// and broadcaster use, kept distinct from the agent's own logx.Logger.
func chatLogger(agent string) zerolog.Logger {
	return zerolog.New(zerolog.NewConsoleWriter()).With().Str("agent", agent).Timestamp().Logger()
}

// remoteStateFetcher adapts marketplace.Client to store.RemoteStateFetcher
// for startup reconciliation (spec §4.7, scenario S6). The marketplace's
// status vocabulary matches escrow.State's names directly. Reconcile
// already treats a non-nil error as "skip this task", so any marketplace
// failure here (network, rate limit, 404) just leaves the task's local
// state as the reconciliation outcome.
type remoteStateFetcher struct {
	market *marketplace.Client
}

func (f remoteStateFetcher) FetchState(ctx context.Context, taskID string) (escrow.State, bool, error) {
	status, found, err := f.market.FetchStatus(ctx, taskID)
	if err != nil || !found {
		return escrow.StateUnknown, false, err
	}
	return escrow.State(strings.ToUpper(status)), true, nil
}

// knownCounterparties returns a closure the reputation refresh cadence
// calls each cycle to discover which addresses are worth scoring: every
// counterparty this agent has an open or settled task with.
func knownCounterparties(st *store.Store) func() []string {
	return func() []string {
		tasks, err := st.ListTasks(context.Background())
		if err != nil {
			return nil
		}
		seen := make(map[string]struct{})
		var addrs []string
		add := func(addr string) {
			if addr == "" {
				return
			}
			if _, ok := seen[addr]; ok {
				return
			}
			seen[addr] = struct{}{}
			addrs = append(addrs, addr)
		}
		for _, t := range tasks {
			add(t.PublisherAddress)
			add(t.ExecutorAddress)
		}
		return addrs
	}
}
