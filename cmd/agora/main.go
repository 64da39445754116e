package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/agora-markets/agora/internal/authority"
	"github.com/agora-markets/agora/internal/config"
	"github.com/agora-markets/agora/internal/feed"
	"github.com/agora-markets/agora/internal/gateway"
	"github.com/agora-markets/agora/internal/kms"
	"github.com/agora-markets/agora/internal/market"
	"github.com/agora-markets/agora/internal/upgrade"
	"github.com/agora-markets/agora/internal/venue"
)

func main() {
	defer memguard.Purge()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Agora marketplace starting (env=%s)\n", cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Event plumbing.
	hub := feed.NewBroadcaster()

	// In-memory ledgers back the local single-process mode; production
	// deployments swap in real chain-backed gateways here.
	native := gateway.NewMemoryNative()
	fungible := gateway.NewMemoryFungible()
	items := gateway.NewMemoryMultiToken()

	var currencies []common.Address
	for _, c := range cfg.Market.CurrencyList() {
		currencies = append(currencies, common.HexToAddress(c))
	}

	state, err := market.NewState(common.HexToAddress(cfg.Market.FeeRecipient), cfg.Market.FeeRate, currencies)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize state: %v\n", err)
		os.Exit(1)
	}

	engineAddr := common.HexToAddress(cfg.Market.EngineAddress)
	engine := market.NewEngine(state, engineAddr, market.Gateways{
		Native:     native,
		Fungible:   fungible,
		MultiToken: items,
	}, hub)

	authorityAddr := common.HexToAddress(cfg.Authority.Address)
	ctrl, err := upgrade.New(authorityAddr, state, engine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bind engine: %v\n", err)
		os.Exit(1)
	}
	marketplace := market.NewProxy(ctrl)
	fmt.Printf("Marketplace bound: %s (schema %d, %d currencies)\n",
		ctrl.Current().Name(), state.SchemaVersion(), len(currencies))

	// Swap relay over a fixed-rate local venue. The router keeps its
	// reserves under its own address, distinct from the relay's.
	routerAddr := common.HexToAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d")
	router := venue.NewFixedRateRouter(routerAddr, native, fungible)
	relay := venue.NewRelay(
		common.HexToAddress(cfg.Venue.RelayAddress),
		common.HexToAddress(cfg.Venue.WrappedNative),
		router, native, fungible,
		time.Duration(cfg.Venue.SwapDeadlineSec)*time.Second,
		hub,
	)
	relayCtrl, err := upgrade.New(authorityAddr, venue.RelayState{}, relay)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bind relay: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Swap relay bound: %s\n", relayCtrl.Current().Name())

	// Upgrade authority: unlock the signing key through KMS when
	// configured; otherwise upgrades require externally produced
	// signatures.
	keyholder := authority.NewKeyholder(time.Duration(cfg.Authority.KeyTTLSec) * time.Second)
	defer keyholder.Destroy()
	if cfg.Authority.KMSKeyID != "" && cfg.Authority.KeyCiphertextPath != "" {
		if err := unlockAuthority(ctx, cfg, keyholder); err != nil {
			fmt.Fprintf(os.Stderr, "failed to unlock authority key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Upgrade authority key unlocked")
	}

	// Persist order state changes to Redis.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	writer := feed.NewRedisWriter(redisAdapter{rdb}, hub.SubscribeAll())
	go writer.Run(ctx)

	// Stream events to websocket clients.
	ws := feed.NewWSServer(feed.DefaultWSConfig(), hub.SubscribeAll())
	go ws.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/events", ws)
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 64)
		if err != nil {
			http.Error(w, "bad order id", http.StatusBadRequest)
			return
		}
		order, ok := marketplace.Order(id)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(order)
	})
	srv := &http.Server{Addr: cfg.Feed.WSAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "feed server error: %v\n", err)
		}
	}()
	fmt.Printf("Event feed listening on ws://%s/events\n", cfg.Feed.WSAddr)

	<-ctx.Done()
	fmt.Println("Agora shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	rdb.Close()
}

// unlockAuthority decrypts the authority key through KMS and seals it
// into the keyholder.
func unlockAuthority(ctx context.Context, cfg *config.Config, keyholder *authority.Keyholder) error {
	ciphertext, err := os.ReadFile(cfg.Authority.KeyCiphertextPath)
	if err != nil {
		return fmt.Errorf("read key ciphertext: %w", err)
	}

	client, err := kms.New(ctx, cfg.Authority.AWSRegion, cfg.LocalStackEndpoint)
	if err != nil {
		return err
	}

	plaintext, err := client.Decrypt(ctx, ciphertext)
	if err != nil {
		return err
	}
	defer zero(plaintext)

	return keyholder.Activate(plaintext)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// redisAdapter narrows *redis.Client to the feed.RedisClient interface.
type redisAdapter struct {
	client *redis.Client
}

func (r redisAdapter) HSet(ctx context.Context, key string, values ...any) error {
	return r.client.HSet(ctx, key, values...).Err()
}
