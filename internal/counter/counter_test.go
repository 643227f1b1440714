package counter

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fruitsalade/projectfiles/pkg/models"
)

func testCounter(t *testing.T, cnt Counter) {
	t.Helper()
	ctx := context.Background()
	files := models.Collection{ProjectID: "p1", Kind: models.CollectionFiles}
	materials := models.Collection{ProjectID: "p1", Kind: models.CollectionMaterials}

	for i := 1; i <= 3; i++ {
		n, err := cnt.Increment(ctx, files, "a")
		if err != nil {
			t.Fatal(err)
		}
		if n != int64(i) {
			t.Errorf("increment %d returned %d", i, n)
		}
	}
	if _, err := cnt.Increment(ctx, materials, "a"); err != nil {
		t.Fatal(err)
	}

	got, err := cnt.Counts(ctx, files, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if got["a"] != 3 {
		t.Errorf("a = %d, want 3", got["a"])
	}
	if _, ok := got["b"]; ok {
		t.Error("uncounted id present")
	}

	if err := cnt.Forget(ctx, files, []string{"a"}); err != nil {
		t.Fatal(err)
	}
	got, _ = cnt.Counts(ctx, files, []string{"a"})
	if len(got) != 0 {
		t.Errorf("after Forget: %v", got)
	}
	got, _ = cnt.Counts(ctx, materials, []string{"a"})
	if got["a"] != 1 {
		t.Errorf("other collection affected: %v", got)
	}

	if got, err := cnt.Counts(ctx, files, nil); err != nil || len(got) != 0 {
		t.Errorf("Counts(nil) = %v, %v", got, err)
	}
}

func TestMemory(t *testing.T) {
	testCounter(t, NewMemory())
}

func TestRedis(t *testing.T) {
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}

	r, err := NewRedis(ctx, RedisConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	testCounter(t, r)
}
