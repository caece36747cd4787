//go:build integration

package testutils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

// MinioEnv is a running MinIO server holding one empty bucket.
type MinioEnv struct {
	Container testcontainers.Container
	Endpoint  string
	Bucket    string
}

// MetadataURL returns a gocloud s3:// URL for the bucket. The optional
// prefix keeps records of different tests apart.
func (e *MinioEnv) MetadataURL(prefix string) string {
	u := fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
		e.Bucket, e.Endpoint)
	if prefix != "" {
		u += "&prefix=" + prefix
	}
	return u
}

// StartMinio starts MinIO on a private network, creates bucket with the mc
// client and exports credentials for the AWS SDK. Everything is torn down
// when the test ends.
func StartMinio(t *testing.T, ctx context.Context, bucket string) *MinioEnv {
	t.Helper()

	networkName := fmt.Sprintf("dlm-minio-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: networkName},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(context.Background()) })

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "minio/minio:latest",
			ExposedPorts:   []string{"9000/tcp"},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"minio"}},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	makeBucket(t, ctx, networkName, bucket)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}

	// gocloud's s3blob picks these up through the default AWS config chain.
	t.Setenv("AWS_ACCESS_KEY_ID", minioUser)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioPassword)

	return &MinioEnv{
		Container: container,
		Endpoint:  fmt.Sprintf("%s:%s", host, port.Port()),
		Bucket:    bucket,
	}
}

// makeBucket runs a short-lived mc container that creates bucket.
func makeBucket(t *testing.T, ctx context.Context, networkName, bucket string) {
	t.Helper()

	script := fmt.Sprintf("mc alias set local http://minio:9000 %s %s && mc mb --ignore-existing local/%s",
		minioUser, minioPassword, bucket)

	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{networkName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd:        []string{script},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mc.Terminate(ctx)

	state, err := mc.State(ctx)
	if err != nil {
		t.Fatalf("mc state: %v", err)
	}
	if state.ExitCode != 0 {
		t.Fatalf("mc exited with code %d", state.ExitCode)
	}
}
