// Command walletd runs the wallet core daemon: classifier-driven send
// sessions against a node service, provider health monitoring, and
// periodic state backups.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/emberwallet/core/internal/backup"
	"github.com/emberwallet/core/internal/credential"
	"github.com/emberwallet/core/internal/crypto"
	"github.com/emberwallet/core/internal/errs"
	"github.com/emberwallet/core/internal/migrate"
	"github.com/emberwallet/core/internal/model"
	"github.com/emberwallet/core/internal/node"
	"github.com/emberwallet/core/internal/provider"
	"github.com/emberwallet/core/internal/repository"
	"github.com/emberwallet/core/internal/repository/memory"
	"github.com/emberwallet/core/internal/repository/postgres"
	"github.com/emberwallet/core/internal/securestore"
	"github.com/emberwallet/core/internal/send"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const autoBackupSetting = "backup.auto"

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL DSN (empty: in-memory stores)")
	dataDir := flag.String("data-dir", defaultDataDir(), "directory for secure store and local backups")
	s3Bucket := flag.String("s3-bucket", "", "S3 bucket for cloud backups (empty: local fallback)")
	s3Region := flag.String("s3-region", "us-east-1", "S3 region")
	s3Endpoint := flag.String("s3-endpoint", "", "S3-compatible endpoint (MinIO etc.)")
	s3AccessKey := flag.String("s3-access-key", "", "S3 access key (empty: default chain)")
	s3SecretKey := flag.String("s3-secret-key", "", "S3 secret key")
	healthInterval := flag.Duration("health-interval", time.Minute, "provider health probe interval")
	backupInterval := flag.Duration("backup-interval", 5*time.Minute, "automatic backup interval")
	autoBackup := flag.Bool("auto-backup", false, "enable automatic backups on start")
	balance := flag.Int64("sim-balance-sats", 1_000_000, "simulated node starting balance in sats")
	setup := flag.Bool("setup", false, "run interactive wallet initialization and exit")
	dev := flag.Bool("dev", false, "development logging and demo providers")
	flag.Parse()

	logger, _ := zap.NewProduction()
	if *dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openSecureStore(*dataDir)
	if err != nil {
		logger.Fatal("secure store", zap.Error(err))
	}
	gate, err := credential.NewGate(store, terminalAuthenticator{}, logger)
	if err != nil {
		logger.Fatal("credential gate", zap.Error(err))
	}

	if *setup {
		if err := runSetup(ctx, gate); err != nil {
			logger.Fatal("setup", zap.Error(err))
		}
		logger.Info("wallet initialized")
		return
	}
	if !gate.HasSeed(ctx) {
		logger.Fatal("no seed stored, run with -setup first")
	}

	// Repositories
	var (
		healthRepo   repository.HealthRepository
		backupRepo   repository.BackupRepository
		paymentRepo  repository.PaymentRepository
		settingsRepo repository.SettingsRepository
	)
	if *dsn != "" {
		if err := migrate.Up(ctx, *dsn); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := postgres.New(ctx, *dsn)
		if err != nil {
			logger.Fatal("postgres pool", zap.Error(err))
		}
		defer db.Close()
		healthRepo = postgres.NewHealthRepo(db)
		backupRepo = postgres.NewBackupRepo(db)
		paymentRepo = postgres.NewPaymentRepo(db)
		settingsRepo = postgres.NewSettingsRepo(db)
	} else {
		logger.Info("no dsn given, using in-memory stores")
		healthRepo = memory.NewHealthStore()
		backupRepo = memory.NewBackupStore()
		paymentRepo = memory.NewPaymentStore()
		settingsRepo = memory.NewSettingsStore()
	}

	// Node service
	sim := node.NewSim(model.AmountFromSats(*balance))
	if *dev {
		seedDemoProviders(sim)
	}

	// Provider registry and health monitoring
	registry := provider.NewRegistry(sim, healthRepo, logger)
	if err := registry.Sync(ctx); err != nil {
		logger.Fatal("provider sync", zap.Error(err))
	}
	monitor := provider.NewMonitor(registry, *healthInterval, logger)
	if err := monitor.Start(); err != nil {
		logger.Fatal("health monitor", zap.Error(err))
	}
	defer monitor.Stop()

	// Backup coordination
	local, err := backup.NewLocalStore(filepath.Join(*dataDir, "backups"))
	if err != nil {
		logger.Fatal("local backup store", zap.Error(err))
	}
	coordinator := backup.NewCoordinator(sim, backupRepo, local, logger).
		WithInterval(*backupInterval).
		WithAudit(gate)
	if *s3Bucket != "" {
		cloud, err := backup.NewS3Store(ctx, backup.S3Config{
			Bucket:    *s3Bucket,
			Region:    *s3Region,
			Endpoint:  *s3Endpoint,
			AccessKey: *s3AccessKey,
			SecretKey: *s3SecretKey,
		})
		if err != nil {
			logger.Fatal("s3 backup store", zap.Error(err))
		}
		coordinator.WithCloud(cloud)
	}
	flagGiven := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "auto-backup" {
			flagGiven = true
		}
	})
	autoEnabled, err := resolveAutoBackup(ctx, settingsRepo, flagGiven, *autoBackup)
	if err != nil {
		logger.Error("persist auto-backup toggle", zap.Error(err))
	}
	if autoEnabled {
		if err := coordinator.EnableAuto(); err != nil {
			logger.Fatal("auto backup", zap.Error(err))
		}
		defer coordinator.DisableAuto()
	}

	// Send sessions
	orchestrator := send.New(sim, paymentRepo, logger)
	unsubscribe := sim.Subscribe(orchestrator.HandleEvent)
	defer unsubscribe()

	logger.Info("wallet core ready")
	<-ctx.Done()
	logger.Info("shutdown complete")
}

// resolveAutoBackup decides whether automatic backups run. An
// explicitly passed flag wins and its value is persisted, on or off;
// otherwise the stored toggle applies.
func resolveAutoBackup(ctx context.Context, settings repository.SettingsRepository, flagGiven, flagValue bool) (bool, error) {
	if !flagGiven {
		v, err := settings.Get(ctx, autoBackupSetting)
		if err != nil {
			return false, nil
		}
		return v == "1", nil
	}
	stored := "0"
	if flagValue {
		stored = "1"
	}
	if err := settings.Set(ctx, autoBackupSetting, stored); err != nil {
		return flagValue, err
	}
	return flagValue, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".walletd"
	}
	return filepath.Join(home, ".walletd")
}

// openSecureStore loads or creates the device secret and opens the
// encrypted key/value store under it.
func openSecureStore(dataDir string) (securestore.Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	keyPath := filepath.Join(dataDir, "device.key")
	secret, err := os.ReadFile(keyPath)
	if errors.Is(err, os.ErrNotExist) {
		secret, err = crypto.RandBytes(32)
		if err != nil {
			return nil, fmt.Errorf("device secret: %w", err)
		}
		if err := os.WriteFile(keyPath, secret, 0o600); err != nil {
			return nil, fmt.Errorf("persist device secret: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read device secret: %w", err)
	}
	return securestore.NewFileStore(filepath.Join(dataDir, "store.enc"), secret, terminalAuthenticator{})
}

// terminalAuthenticator stands in for a platform biometric prompt: it
// asks for explicit confirmation on the controlling terminal.
type terminalAuthenticator struct{}

func (terminalAuthenticator) Authenticate(ctx context.Context, reason string) error {
	fmt.Printf("confirm: %s [y/N]: ", reason)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(strings.ToLower(line)) != "y" {
		return errors.New("refused")
	}
	return nil
}

// readPin reads a PIN without echoing it.
func readPin(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read pin: %w", err)
	}
	return string(raw), nil
}

// runSetup walks a fresh wallet through recovery phrase generation (or
// import) and the initial PIN flow.
func runSetup(ctx context.Context, gate *credential.Gate) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("import existing recovery phrase? [y/N]: ")
	answer, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read answer: %w", err)
	}

	var phrase string
	if strings.TrimSpace(strings.ToLower(answer)) == "y" {
		fmt.Print("enter 24-word phrase: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read phrase: %w", err)
		}
		phrase = strings.TrimSpace(line)
		if !gate.ValidateRecoveryPhrase(phrase) {
			return errors.New("invalid recovery phrase")
		}
	} else {
		phrase, err = gate.GenerateRecoveryPhrase()
		if err != nil {
			return fmt.Errorf("generate phrase: %w", err)
		}
		fmt.Println("write down your recovery phrase:")
		fmt.Println()
		fmt.Println("  " + phrase)
		fmt.Println()
	}
	if err := gate.StoreSeed(ctx, phrase); err != nil {
		return fmt.Errorf("store seed: %w", err)
	}

	flow := gate.StartPinFlow(ctx)
	for flow.Stage() != credential.StageDone {
		var prompt string
		switch flow.Stage() {
		case credential.StageCurrent:
			prompt = "current PIN: "
		case credential.StageNew:
			prompt = "new PIN: "
		case credential.StageConfirm:
			prompt = "confirm PIN: "
		}
		pin, err := readPin(prompt)
		if err != nil {
			return err
		}
		if _, err := flow.Submit(ctx, pin); err != nil {
			if errors.Is(err, credential.ErrPinMismatch) {
				fmt.Println("PINs do not match, try again")
				continue
			}
			if errors.Is(err, errs.ErrInvalidState) {
				fmt.Println(err)
				continue
			}
			return err
		}
	}
	return nil
}

// seedDemoProviders populates the simulated node with providers
// carrying real compressed secp256k1 keys.
func seedDemoProviders(sim *node.Sim) {
	demo := []struct {
		id, name  string
		baseFee   model.Amount
		ppm       int64
		minCap    model.Amount
		maxCap    model.Amount
		latency   time.Duration
		isDefault bool
	}{
		{"olympus", "Olympus", 1_000, 2_000, model.AmountFromSats(10_000), model.AmountFromSats(10_000_000), 40 * time.Millisecond, true},
		{"breez", "Breez", 2_000, 1_500, model.AmountFromSats(50_000), model.AmountFromSats(50_000_000), 70 * time.Millisecond, false},
		{"voltage", "Voltage", 500, 3_000, model.AmountFromSats(5_000), model.AmountFromSats(5_000_000), 25 * time.Millisecond, false},
	}
	for _, d := range demo {
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			continue
		}
		sim.AddProvider(model.ProviderDescriptor{
			ID:          d.id,
			Name:        d.name,
			Endpoint:    fmt.Sprintf("https://%s.example:9735", d.id),
			Pubkey:      hex.EncodeToString(priv.PubKey().SerializeCompressed()),
			BaseFee:     d.baseFee,
			FeeRatePPM:  d.ppm,
			MinCapacity: d.minCap,
			MaxCapacity: d.maxCap,
			IsDefault:   d.isDefault,
		}, d.latency)
	}
}
