package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"backupd/internal/auth"
	"backupd/internal/backup"
	"backupd/internal/blob"
	"backupd/internal/config"
	"backupd/internal/db"
	"backupd/internal/httpapi"
	"backupd/internal/ratelimit"
	"backupd/internal/retention"
	"backupd/internal/storage"
	"backupd/internal/store"
	"backupd/internal/wire"
)

func main() {
	if err := config.LoadDotEnv(".env.local", ".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer backend.Close()

	transport, closeTransport, err := openBlobTransport(ctx, cfg)
	if err != nil {
		log.Fatalf("open blob service: %v", err)
	}
	defer closeTransport()

	mgr := store.NewManager(backend)
	blobs := blob.NewClient(transport, log.Default())
	svc := backup.NewService(mgr, blobs, backup.Options{
		BridgeCapacity: cfg.BridgeCapacity,
		LogSizeLimit:   cfg.LogSizeLimit,
		Logger:         log.Default(),
	})

	runner := retention.NewRunner(mgr, blobs, cfg.RetentionMaxAge, cfg.RetentionWorkers, log.Default())
	worker := retention.NewWorker(
		runner,
		retention.WorkerConfig{
			Enabled:      cfg.RetentionEnabled,
			StartupDelay: cfg.RetentionDelay,
			Interval:     cfg.RetentionInterval,
			PageSize:     cfg.RetentionPageSize,
		},
		log.Default(),
	)
	trigger := retention.NewTrigger(runner, cfg.RetentionPageSize, log.Default())

	limiter := ratelimit.New(cfg.RateLimits())
	scopeOf := ratelimit.ScopeForMethods(wire.BackupPullBackupMethod)
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(ratelimit.UnaryServerInterceptor(limiter, scopeOf)),
		grpc.ChainStreamInterceptor(ratelimit.StreamServerInterceptor(limiter, scopeOf)),
	)
	wire.RegisterBackupServiceServer(grpcServer, svc)

	authn := auth.NewAuthenticator(cfg.AdminToken)
	api := httpapi.New(cfg, svc, authn, trigger)
	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      api.NewEcho(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		log.Fatalf("listen %s: %v", cfg.GRPCListenAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("grpc listening on %s", cfg.GRPCListenAddr)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("serve grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("http listening on %s", cfg.HTTPListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
		if err := trigger.Stop(shutdownCtx); err != nil {
			log.Printf("retention run did not stop: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
	log.Printf("server stopped")
}

func openBackend(ctx context.Context, cfg config.Config) (store.Backend, error) {
	switch cfg.DBBackend {
	case config.DBBackendPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st := store.NewPostgresStore(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil
	case config.DBBackendDynamo:
		awsCfg, err := db.LoadAWSConfig(ctx, awsOptions(cfg))
		if err != nil {
			return nil, err
		}
		return store.NewDynamoStore(db.NewDynamoClient(awsCfg, cfg.DynamoEndpoint), cfg.DynamoTablePrefix), nil
	default:
		boltDB, err := db.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		st, err := store.NewBoltStore(boltDB)
		if err != nil {
			_ = boltDB.Close()
			return nil, err
		}
		return st, nil
	}
}

func openBlobTransport(ctx context.Context, cfg config.Config) (blob.Transport, func(), error) {
	switch cfg.BlobBackend {
	case config.BlobBackendRemote:
		cc, err := grpc.NewClient(cfg.BlobServiceAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("dial blob service: %w", err)
		}
		return blob.NewGRPCTransport(cc), func() { _ = cc.Close() }, nil
	case config.BlobBackendS3:
		awsCfg, err := db.LoadAWSConfig(ctx, awsOptions(cfg))
		if err != nil {
			return nil, nil, err
		}
		objects := storage.NewS3BlobStore(storage.S3Options{
			Client: db.NewS3Client(awsCfg, cfg.S3Endpoint),
			Bucket: cfg.S3Bucket,
			Prefix: cfg.S3Prefix,
		})
		return blob.NewLocalTransport(blob.NewStore(objects, log.Default())), func() {}, nil
	default:
		local, err := storage.NewLocalBlobStore(cfg.StorageRoot)
		if err != nil {
			return nil, nil, err
		}
		return blob.NewLocalTransport(blob.NewStore(local, log.Default())), func() {}, nil
	}
}

func awsOptions(cfg config.Config) db.AWSOptions {
	return db.AWSOptions{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	}
}
