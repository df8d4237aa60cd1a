package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"sensornet/internal/config"
	"sensornet/internal/metrics"
	"sensornet/internal/model"
)

func StartTCPStream(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.RawReading, m *metrics.Metrics, logger *slog.Logger) {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", current.Addr)
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go handleTCPStreamConn(ctx, conn, parser, out, m, logger)
		}
	}()
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, parser *Parser, out chan<- model.RawReading, m *metrics.Metrics, logger *slog.Logger) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		reading, err := parser.ParseLine(scanner.Text())
		if err != nil || reading == nil {
			if err != nil && logger != nil {
				logger.Warn("tcp stream payload rejected", "err", err)
			}
			continue
		}
		reading.Source = "tcp_stream"
		SendNonBlocking(ctx, out, *reading, m, logger)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("tcp stream scanner error", "err", err)
	}
}
