package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/infigaming-com/go-tcpros/config"
	"github.com/infigaming-com/go-tcpros/frame"
	"github.com/infigaming-com/go-tcpros/header"
	"github.com/infigaming-com/go-tcpros/internal/backoff"
	"github.com/infigaming-com/go-tcpros/msgs"
	"github.com/infigaming-com/go-tcpros/subscriber"
	"github.com/infigaming-com/go-tcpros/transport/inmem"
)

func chatterHeader() map[string]string {
	return map[string]string{
		header.FieldCallerID: "/talker",
		header.FieldTopic:    "/chatter",
		header.FieldMD5Sum:   msgs.StringMD5Sum,
		header.FieldType:     msgs.StringType,
	}
}

func chatterConfig(port int) config.Config {
	cfg := config.Default()
	cfg.NodeName = "/echo"
	cfg.Publishers = []config.Publisher{{
		Topic:  "/chatter",
		Type:   msgs.StringType,
		MD5Sum: msgs.StringMD5Sum,
		Host:   "talker",
		Port:   port,
	}}
	return cfg
}

func testDeps(t *testing.T, tr *inmem.Transport, out *bytes.Buffer, count int) echoDeps {
	return echoDeps{
		logger:  zaptest.NewLogger(t),
		out:     out,
		count:   count,
		dialer:  tr,
		backoff: backoff.Config{Initial: time.Millisecond, Max: 5 * time.Millisecond},
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunStopsAtCount(t *testing.T) {
	tr := inmem.New()
	defer tr.Close()
	tr.Register("talker", 1, func(ctx context.Context, peer *inmem.Peer) {
		if _, err := peer.ReadHeader(); err != nil {
			return
		}
		if err := peer.WriteHeader(chatterHeader()); err != nil {
			return
		}
		for _, s := range []string{"one", "two", "three"} {
			if err := peer.WriteFrame(msgs.EncodeString(s)); err != nil {
				return
			}
		}
		peer.Wait(ctx)
	})

	var out bytes.Buffer
	err := run(testContext(t), chatterConfig(1), testDeps(t, tr, &out, 2))
	require.NoError(t, err)
	assert.Equal(t, "/chatter: one\n/chatter: two\n", out.String())
}

func TestRunReconnectsAfterHangup(t *testing.T) {
	var dials atomic.Int32
	tr := inmem.New()
	defer tr.Close()
	tr.Register("talker", 1, func(ctx context.Context, peer *inmem.Peer) {
		n := dials.Add(1)
		if _, err := peer.ReadHeader(); err != nil {
			return
		}
		if err := peer.WriteHeader(chatterHeader()); err != nil {
			return
		}
		_ = peer.WriteFrame(msgs.EncodeString(fmt.Sprintf("msg-%d", n)))
	})

	var out bytes.Buffer
	err := run(testContext(t), chatterConfig(1), testDeps(t, tr, &out, 3))
	require.NoError(t, err)
	assert.Equal(t, "/chatter: msg-1\n/chatter: msg-2\n/chatter: msg-3\n", out.String())
	assert.Equal(t, int32(3), dials.Load())
}

func TestRunRetriesRefusedDial(t *testing.T) {
	tr := inmem.New()
	defer tr.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.Register("talker", 1, func(ctx context.Context, peer *inmem.Peer) {
			if _, err := peer.ReadHeader(); err != nil {
				return
			}
			if err := peer.WriteHeader(chatterHeader()); err != nil {
				return
			}
			_ = peer.WriteFrame(msgs.EncodeString("late"))
			peer.Wait(ctx)
		})
	}()

	var out bytes.Buffer
	err := run(testContext(t), chatterConfig(1), testDeps(t, tr, &out, 1))
	require.NoError(t, err)
	assert.Equal(t, "/chatter: late\n", out.String())
}

func TestRunGivesUpOnMismatch(t *testing.T) {
	var dials atomic.Int32
	tr := inmem.New()
	defer tr.Close()
	tr.Register("talker", 1, func(ctx context.Context, peer *inmem.Peer) {
		dials.Add(1)
		if _, err := peer.ReadHeader(); err != nil {
			return
		}
		fields := chatterHeader()
		fields[header.FieldMD5Sum] = "0000"
		_ = peer.WriteHeader(fields)
		peer.Wait(ctx)
	})

	var out bytes.Buffer
	err := run(testContext(t), chatterConfig(1), testDeps(t, tr, &out, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, subscriber.ErrHandshakeMismatch)
	assert.Contains(t, err.Error(), "/chatter at talker:1")
	assert.Equal(t, int32(1), dials.Load())
	assert.Empty(t, out.String())
}

func TestRunPrintsRawAsHex(t *testing.T) {
	tr := inmem.New()
	defer tr.Close()
	tr.Register("talker", 2, func(ctx context.Context, peer *inmem.Peer) {
		if _, err := peer.ReadHeader(); err != nil {
			return
		}
		if err := peer.WriteHeader(map[string]string{"topic": "/blob", "type": "pkg/Blob", "md5sum": "abc"}); err != nil {
			return
		}
		_ = peer.WriteMessage([]byte{0xde, 0xad, 0xbe, 0xef})
		peer.Wait(ctx)
	})

	cfg := config.Default()
	cfg.Publishers = []config.Publisher{{Topic: "/blob", Type: "pkg/Blob", MD5Sum: "abc", Host: "talker", Port: 2}}

	var out bytes.Buffer
	err := run(testContext(t), cfg, testDeps(t, tr, &out, 1))
	require.NoError(t, err)
	assert.Equal(t, "/blob: deadbeef\n", out.String())
}

func TestRunEndsWithContext(t *testing.T) {
	tr := inmem.New()
	defer tr.Close()
	tr.Register("talker", 1, func(ctx context.Context, peer *inmem.Peer) {
		if _, err := peer.ReadHeader(); err != nil {
			return
		}
		if err := peer.WriteHeader(chatterHeader()); err != nil {
			return
		}
		peer.Wait(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var out bytes.Buffer
	assert.NoError(t, run(ctx, chatterConfig(1), testDeps(t, tr, &out, 0)))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(config.EnvTopicTimeoutMS, "")
	t.Setenv(config.EnvNodeName, "")

	t.Run("flags only", func(t *testing.T) {
		cfg, err := loadConfig(rootFlags{host: "talker", port: 1, topic: "/chatter", typeName: msgs.StringType, nodeName: "/me"})
		require.NoError(t, err)
		assert.Equal(t, "/me", cfg.NodeName)
		require.Len(t, cfg.Publishers, 1)
		assert.Equal(t, msgs.StringMD5Sum, cfg.Publishers[0].MD5Sum)
	})

	t.Run("anonymous node name", func(t *testing.T) {
		cfg, err := loadConfig(rootFlags{host: "talker", port: 1, topic: "/chatter", typeName: msgs.StringType})
		require.NoError(t, err)
		assert.Regexp(t, `^/topicecho_[0-9a-f]{12}$`, cfg.NodeName)
	})

	t.Run("no publishers", func(t *testing.T) {
		_, err := loadConfig(rootFlags{typeName: msgs.StringType})
		assert.ErrorContains(t, err, "no publishers")
	})

	t.Run("unknown type needs md5sum", func(t *testing.T) {
		_, err := loadConfig(rootFlags{host: "talker", port: 1, topic: "/blob", typeName: "pkg/Blob"})
		assert.ErrorContains(t, err, "md5sum is required")
	})

	t.Run("bad port", func(t *testing.T) {
		_, err := loadConfig(rootFlags{host: "talker", port: 0, topic: "/chatter", typeName: msgs.StringType})
		assert.ErrorContains(t, err, "out of range")
	})

	t.Run("negative count", func(t *testing.T) {
		_, err := loadConfig(rootFlags{host: "talker", port: 1, topic: "/chatter", typeName: msgs.StringType, count: -1})
		assert.Error(t, err)
	})

	t.Run("file plus flag", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "echo.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
node_name = "/from_file"
topic_timeout_ms = 750

[[publisher]]
topic = "/odom"
type = "nav_msgs/Odometry"
md5sum = "cd5e73d190d741a2f92e81eda573aca7"
host = "robot"
port = 50000
`), 0o600))

		cfg, err := loadConfig(rootFlags{configPath: path, host: "talker", port: 1, topic: "/chatter", typeName: msgs.StringType})
		require.NoError(t, err)
		assert.Equal(t, "/from_file", cfg.NodeName)
		assert.Equal(t, 750*time.Millisecond, cfg.TopicTimeout)
		require.Len(t, cfg.Publishers, 2)
		assert.Equal(t, "/odom", cfg.Publishers[0].Topic)
		assert.Equal(t, "/chatter", cfg.Publishers[1].Topic)
	})
}

// servePublisher accepts one TCP subscriber, answers its handshake and sends
// msgs.
func servePublisher(t *testing.T, msgsToSend ...string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		limits := frame.DefaultLimits()
		body, err := frame.ReadFrame(conn, limits)
		if err != nil {
			return
		}
		if _, err := header.Decode(body); err != nil {
			return
		}
		if err := frame.WriteFrame(conn, header.Encode(chatterHeader()), limits); err != nil {
			return
		}
		for _, s := range msgsToSend {
			if err := frame.WriteFrame(conn, msgs.EncodeString(s), limits); err != nil {
				return
			}
		}
		_, _ = conn.Read(make([]byte, 1))
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRootCommandOverTCP(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	port := servePublisher(t, "hello", "world")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
		"--topic", "/chatter",
		"--node", "/echo_test",
		"-n", "2",
	})
	require.NoError(t, cmd.ExecuteContext(testContext(t)))
	assert.Equal(t, "/chatter: hello\n/chatter: world\n", out.String())
}
