package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fencelock/fencelock/core/infra/config"
	"github.com/fencelock/fencelock/core/infra/metrics"
	"github.com/fencelock/fencelock/core/lock"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "acquire":
		runAcquire(args)
	case "release":
		runRelease(args)
	case "extend":
		runExtend(args)
	case "token":
		runToken(args)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fencelockctl <command> [flags] <resource>

commands:
  acquire   take a quorum lease on a resource
  release   release a lease (resource + owner)
  extend    extend a lease (resource + owner)
  token     allocate the next fencing token for a resource

flags:
  -config   lock config YAML (default $LOCK_CONFIG_PATH or config/locks.yaml)
  -ttl      lease TTL, e.g. 10s (acquire/extend)
  -owner    owner token (release/extend)
  -retry    keep retrying acquire with backoff until the deadline
  -timeout  overall call deadline (default 30s)`)
}

type ctlFlags struct {
	*flag.FlagSet
	configPath *string
	ttl        *time.Duration
	owner      *string
	retry      *bool
	timeout    *time.Duration
}

func newFlags(name string) *ctlFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &ctlFlags{
		FlagSet:    fs,
		configPath: fs.String("config", "", "lock config YAML path"),
		ttl:        fs.Duration("ttl", 0, "lease ttl"),
		owner:      fs.String("owner", "", "owner token"),
		retry:      fs.Bool("retry", false, "retry acquire with backoff"),
		timeout:    fs.Duration("timeout", 30*time.Second, "overall deadline"),
	}
}

func (f *ctlFlags) client() (*lock.Client, context.Context, context.CancelFunc) {
	path := *f.configPath
	if path == "" {
		path = config.Load().LockConfigPath
	}
	locksCfg, err := config.LoadLocks(path)
	check(err)
	client, err := lock.NewClient(locksCfg, metrics.Noop{})
	check(err)
	ctx, cancel := context.WithTimeout(context.Background(), *f.timeout)
	return client, ctx, cancel
}

func (f *ctlFlags) resource() string {
	if f.NArg() < 1 {
		fail("resource required")
	}
	return f.Arg(0)
}

func runAcquire(args []string) {
	fs := newFlags("acquire")
	_ = fs.Parse(args)
	client, ctx, cancel := fs.client()
	defer cancel()
	resource := fs.resource()

	if *fs.retry {
		h, err := client.AcquireWithRetry(ctx, resource, *fs.ttl)
		check(err)
		fmt.Printf("owner=%s expires_at=%s\n", h.Owner, h.ExpiresAt.Format(time.RFC3339Nano))
		return
	}
	h, ok, err := client.Acquire(ctx, resource, *fs.ttl)
	check(err)
	if !ok {
		fail("lease not granted")
	}
	fmt.Printf("owner=%s expires_at=%s\n", h.Owner, h.ExpiresAt.Format(time.RFC3339Nano))
}

func runRelease(args []string) {
	fs := newFlags("release")
	_ = fs.Parse(args)
	client, ctx, cancel := fs.client()
	defer cancel()
	resource := fs.resource()
	if *fs.owner == "" {
		fail("owner required")
	}
	check(client.Release(ctx, &lock.Handle{Resource: resource, Owner: *fs.owner}))
	fmt.Println("released")
}

func runExtend(args []string) {
	fs := newFlags("extend")
	_ = fs.Parse(args)
	client, ctx, cancel := fs.client()
	defer cancel()
	resource := fs.resource()
	if *fs.owner == "" {
		fail("owner required")
	}
	if *fs.ttl <= 0 {
		fail("ttl required")
	}
	ok, err := client.Extend(ctx, &lock.Handle{Resource: resource, Owner: *fs.owner}, *fs.ttl)
	check(err)
	if !ok {
		fail("lease no longer held on a majority")
	}
	fmt.Println("extended")
}

func runToken(args []string) {
	fs := newFlags("token")
	_ = fs.Parse(args)
	client, ctx, cancel := fs.client()
	defer cancel()
	resource := fs.resource()
	token, err := client.AllocateFencingToken(ctx, resource)
	check(err)
	fmt.Println(token)
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "error:", msg)
	os.Exit(1)
}
