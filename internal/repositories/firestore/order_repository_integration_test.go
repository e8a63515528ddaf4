//go:build integration

package firestore

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/courseloft/api/internal/domain"
	pconfig "github.com/courseloft/api/internal/platform/config"
	pfirestore "github.com/courseloft/api/internal/platform/firestore"
	"github.com/courseloft/api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestOrderAndEnrollmentRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "checkout-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	order := domain.Order{
		ID:               "pi_integration_1",
		OwnerEmail:       "Buyer@Example.com",
		Items:            []domain.OrderLineItem{{ItemID: "c1", Title: "Typography", UnitPrice: 2100}},
		Total:            2100,
		PaymentMethod:    domain.PaymentMethodCharge,
		PaymentReference: "pi_integration_1",
		Type:             domain.OrderTypePurchase,
	}

	if err := orders.Insert(ctx, order); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	err = orders.Insert(ctx, order)
	if err == nil {
		t.Fatal("expected conflict on duplicate payment reference")
	}
	if !repositories.IsConflict(err) {
		t.Fatalf("expected conflict classification, got %v", err)
	}

	listed, err := orders.ListByOwner(ctx, "buyer@example.com")
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != "pi_integration_1" {
		t.Fatalf("unexpected orders: %+v", listed)
	}

	enrollments, err := NewEnrollmentRepository(provider)
	if err != nil {
		t.Fatalf("new enrollment repository: %v", err)
	}

	granted, err := enrollments.Save(ctx, domain.Enrollment{
		OwnerEmail: "buyer@example.com",
		ItemID:     "c1",
		Active:     true,
		OrderID:    order.ID,
	})
	if err != nil {
		t.Fatalf("save enrollment: %v", err)
	}
	if !granted.Active {
		t.Fatal("expected active enrollment")
	}

	granted.Active = false
	if _, err := enrollments.Save(ctx, granted); err != nil {
		t.Fatalf("deactivate enrollment: %v", err)
	}

	all, err := enrollments.ListByOwner(ctx, "buyer@example.com")
	if err != nil {
		t.Fatalf("list enrollments: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one enrollment document, got %d", len(all))
	}
	if all[0].Active {
		t.Fatal("expected the single enrollment to be inactive")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
