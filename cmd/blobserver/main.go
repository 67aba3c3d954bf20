package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"backupd/internal/blob"
	"backupd/internal/config"
	"backupd/internal/db"
	"backupd/internal/storage"
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

	objects, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}

	server := grpc.NewServer()
	wire.RegisterBlobServiceServer(server, blob.NewServer(blob.NewStore(objects, log.Default()), log.Default()))

	lis, err := net.Listen("tcp", cfg.BlobListenAddr)
	if err != nil {
		log.Fatalf("listen %s: %v", cfg.BlobListenAddr, err)
	}

	go func() {
		<-ctx.Done()
		stopped := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.ShutdownGracePeriod):
			server.Stop()
		}
	}()

	log.Printf("blob service listening on %s", cfg.BlobListenAddr)
	if err := server.Serve(lis); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

// openStorage picks S3 when configured and the local disk otherwise; a
// remote backend makes no sense for the blob service itself.
func openStorage(ctx context.Context, cfg config.Config) (storage.BlobStorage, error) {
	if cfg.BlobBackend != config.BlobBackendS3 {
		return storage.NewLocalBlobStore(cfg.StorageRoot)
	}
	awsCfg, err := db.LoadAWSConfig(ctx, db.AWSOptions{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return storage.NewS3BlobStore(storage.S3Options{
		Client: db.NewS3Client(awsCfg, cfg.S3Endpoint),
		Bucket: cfg.S3Bucket,
		Prefix: cfg.S3Prefix,
	}), nil
}
