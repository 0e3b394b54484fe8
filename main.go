package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gemini-oss/dnshield/command"
	"github.com/gemini-oss/dnshield/dnscache"
	"github.com/gemini-oss/dnshield/logging"
	"github.com/gemini-oss/dnshield/manifest"
	"github.com/gemini-oss/dnshield/prefs"
	"github.com/gemini-oss/dnshield/proxy"
	"github.com/gemini-oss/dnshield/rulecache"
	"github.com/gemini-oss/dnshield/ruledb"
	"github.com/gemini-oss/dnshield/rulemanager"
	"github.com/gemini-oss/dnshield/rules"
)

func main() {
	prefsPath := flag.String("prefs", "prefs.yaml", "Path to the preference file")
	dataDir := flag.String("data", "data", "Path to the data directory (rule database, rule cache, manifest cache, command queue)")
	listenAddr := flag.String("listen", ":53", "UDP address to listen for DNS queries on")
	upstream := flag.String("upstream", "8.8.8.8:53", "Upstream resolver to forward unmatched queries to")
	jsonLogs := flag.Bool("json-logs", false, "Emit structured JSON logs instead of console output")
	flag.Parse()

	var logger logging.Logger
	if *jsonLogs {
		logger = logging.NewZerologJSON(os.Stderr)
	} else {
		logger = logging.NewZerolog(os.Stderr)
	}
	logger.Info("dnshield: starting")

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("dnshield: creating data dir: %v", err)
	}

	// 1. Preferences (§6).
	store := prefs.NewFileStore(*prefsPath)
	if err := store.Load(); err != nil {
		logger.Warn("dnshield: failed to load preferences, using defaults", "err", err)
	}
	snap := prefs.Read(store)

	// 2. Rule database and rule-set cache.
	db, err := ruledb.Open(filepath.Join(*dataDir, "rules.db"))
	if err != nil {
		log.Fatalf("dnshield: opening rule database: %v", err)
	}
	defer db.Close()

	ruleCache, err := rulecache.New(rulecache.Config{
		DiskPath: filepath.Join(*dataDir, "rulecache.db"),
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("dnshield: opening rule cache: %v", err)
	}
	defer ruleCache.Close()
	if err := ruleCache.PreloadAll(); err != nil {
		logger.Warn("dnshield: rule cache preload failed", "err", err)
	}
	ruleCache.StartSweep(0)
	defer ruleCache.StopSweep()

	// 3. Manifest resolver and RuleManager (§4.6, §9).
	fetcher := manifest.NewFetcher(snap, logger)
	resolver := manifest.NewResolver(fetcher, *dataDir, nil, logger, manifestFormat(snap.ManifestFormat))
	chain := manifest.IdentifierChain(snap.ClientIdentifier, "", "")

	rm := rulemanager.New(db, ruleCache, resolver, snap.ManifestURL, chain, logger)
	if snap.ManifestURL != "" {
		if _, err := rm.Sync(context.Background()); err != nil {
			logger.Warn("dnshield: initial manifest sync failed, continuing with existing rule database", "err", err)
		}
		rm.Start(snap.ManifestUpdateInterval)
		defer rm.Stop()
	} else {
		logger.Warn("dnshield: no ManifestURL configured, skipping manifest sync")
	}

	// 4. DNS response cache (§4.5).
	dCache, err := dnscache.New(dnscache.Config{Policies: buildCachePolicies(snap)})
	if err != nil {
		log.Fatalf("dnshield: opening dns cache: %v", err)
	}

	// 5. Proxy request flow and UDP listener (§4.7).
	flow := &proxy.Flow{
		RuleDB:       db,
		Cache:        dCache,
		Classifier:   proxy.NewClassifier(snap.VPNResolvers),
		Upstreams:    []string{*upstream},
		WildcardMode: rules.IncludeRoot,
		Upstream:     proxy.NewUpstream(5 * time.Second),
		Logger:       logger,
	}
	server := proxy.NewServer(*listenAddr, flow, logger)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("dnshield: dns server failed: %v", err)
		}
	}()
	logger.Info("dnshield: listening", "addr", *listenAddr, "upstream", *upstream)

	// 6. Command channel (§4.8).
	ch, err := command.New(
		filepath.Join(*dataDir, "Commands", "incoming"),
		filepath.Join(*dataDir, "Commands", "responses"),
		command.Handlers{
			SyncRules: func(ctx context.Context) error {
				_, err := rm.Sync(ctx)
				return err
			},
			UpdateRules: func(ctx context.Context) error {
				_, err := rm.Sync(ctx)
				return err
			},
			ClearCache: func() error {
				dCache.Purge()
				ruleCache.PurgeAll()
				return nil
			},
			ReloadConfiguration: func() error {
				if err := store.Load(); err != nil {
					return err
				}
				snap = prefs.Read(store)
				flow.Classifier = proxy.NewClassifier(snap.VPNResolvers)
				rm.Stop()
				rm.Start(snap.ManifestUpdateInterval)
				return nil
			},
			GetStatus: func() (map[string]any, error) {
				allow, block, err := db.Counts()
				if err != nil {
					return nil, err
				}
				stats := ruleCache.Stats()
				return map[string]any{
					"rules_allow":         allow,
					"rules_block":         block,
					"dns_cache_entries":   dCache.Len(),
					"rule_cache_hit_rate": stats.HitRate(),
				}, nil
			},
		},
		logger,
	)
	if err != nil {
		log.Fatalf("dnshield: starting command channel: %v", err)
	}
	if err := ch.Start(context.Background()); err != nil {
		log.Fatalf("dnshield: starting command channel: %v", err)
	}
	defer ch.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("dnshield: received signal, shutting down", "signal", sig.String())

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		logger.Warn("dnshield: dns server shutdown error", "err", err)
	}
}

func manifestFormat(s string) manifest.RuleFormat {
	switch manifest.RuleFormat(s) {
	case manifest.FormatYAML, manifest.FormatPlist, manifest.FormatHosts:
		return manifest.RuleFormat(s)
	default:
		return manifest.FormatJSON
	}
}

// buildCachePolicies translates the preference-level DomainCacheRules and
// CacheBypassDomains (§6) into dnscache's own Policy vocabulary,
// CacheBypassDomains mapping to PolicyNever entries appended after the
// configured rules so an explicit DomainCacheRules entry for the same
// domain still takes precedence.
func buildCachePolicies(snap prefs.Snapshot) []dnscache.Policy {
	var policies []dnscache.Policy
	for _, r := range snap.DomainCacheRules {
		p := dnscache.Policy{Pattern: r.Pattern, TTL: r.TTL}
		switch r.Action {
		case "never":
			p.Kind = dnscache.PolicyNever
		case "always":
			p.Kind = dnscache.PolicyAlways
		case "custom":
			p.Kind = dnscache.PolicyCustom
		default:
			p.Kind = dnscache.PolicyDefault
		}
		policies = append(policies, p)
	}
	for _, d := range snap.CacheBypassDomains {
		policies = append(policies, dnscache.Policy{Pattern: d, Kind: dnscache.PolicyNever})
	}
	return policies
}
