//go:build integration

package redislog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wilhg/agentsim/pkg/store"
)

func TestRedisLogOrderAndTrim(t *testing.T) {
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skip: cannot start redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := c.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := New(rdb, WithMaxLen(3))
	for i := 0; i < 5; i++ {
		row := store.ConversationRow{AgentID: "a", ConversationKey: "a:global", Role: "user",
			Content: fmt.Sprintf("m%d", i), CreatedAt: time.Now().UTC()}
		if err := l.AppendMessage(ctx, row); err != nil {
			t.Fatal(err)
		}
	}
	got, err := l.RecentMessages(ctx, "a", "a:global", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Content != "m2" || got[2].Content != "m4" {
		t.Fatalf("got %+v", got)
	}
	got, _ = l.RecentMessages(ctx, "a", "a:global", 2)
	if len(got) != 2 || got[0].Content != "m3" {
		t.Fatalf("limit not applied: %+v", got)
	}
	empty, err := l.RecentMessages(ctx, "a", "missing", 5)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty=%v err=%v", empty, err)
	}
}
