package engine

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// AdminServer serves the administrative console's line-command side
// channel over TCP: SET_WEIGHTS b u t l, CONFIG key=value, STATUS, and the
// supplemented NEIGHBORS verb. Exit codes are undefined for this
// interface; every response is a line starting with OK or ERROR.
type AdminServer struct {
	engine *Engine
}

// NewAdminServer wraps e for administrative access.
func NewAdminServer(e *Engine) *AdminServer {
	return &AdminServer{engine: e}
}

// Start listens on addr (host:port) and serves connections until the
// listener is closed or accept fails.
func (s *AdminServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("engine: admin console listen on %q failed: %w", addr, err)
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("engine: admin console accept failed: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *AdminServer) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		for _, resp := range s.dispatch(line) {
			fmt.Fprintf(conn, "%s\n", resp)
		}
	}
}

// dispatch handles one command line, returning every response line.
func (s *AdminServer) dispatch(line string) []string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return []string{"ERROR empty command"}
	}

	switch strings.ToUpper(fields[0]) {
	case "SET_WEIGHTS":
		return []string{s.handleSetWeights(fields[1:])}
	case "CONFIG":
		return []string{s.handleConfig(fields[1:])}
	case "STATUS":
		return []string{s.handleStatus()}
	case "NEIGHBORS":
		return s.handleNeighbors()
	default:
		return []string{fmt.Sprintf("ERROR unrecognized command %q", fields[0])}
	}
}

func (s *AdminServer) handleSetWeights(args []string) string {
	if len(args) != 4 {
		return "ERROR SET_WEIGHTS requires 4 arguments: battery uptime trust link_quality"
	}
	vals := make([]float64, 4)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Sprintf("ERROR invalid weight %q: %v", a, err)
		}
		vals[i] = v
	}
	s.engine.SetWeights(vals[0], vals[1], vals[2], vals[3])
	return "OK"
}

func (s *AdminServer) handleConfig(args []string) string {
	if len(args) != 1 {
		return "ERROR CONFIG requires exactly one key=value argument"
	}
	key, value, found := strings.Cut(args[0], "=")
	if !found {
		return "ERROR CONFIG argument must be key=value"
	}
	if err := s.engine.SetConfigKey(key, value); err != nil {
		return fmt.Sprintf("ERROR %v", err)
	}
	return "OK"
}

func (s *AdminServer) handleStatus() string {
	st := s.engine.Status()
	return fmt.Sprintf("OK node_id=%d role=%s visual_role=%s score=%.4f battery=%.4f trust=%.4f link_quality=%.4f neighbors=%d",
		st.NodeID, st.Role, st.VisualRole, st.Snapshot.CompositeScore, st.Snapshot.Battery, st.Snapshot.Trust, st.Snapshot.LinkQuality, st.NeighborCount)
}

func (s *AdminServer) handleNeighbors() []string {
	neighbors := s.engine.NeighborsSnapshot()
	out := make([]string, 0, len(neighbors)+1)
	out = append(out, fmt.Sprintf("OK count=%d", len(neighbors)))
	for _, n := range neighbors {
		out = append(out, fmt.Sprintf("node_id=%d rssi=%.2f score=%.4f battery=%.4f trust=%.4f link_quality=%.4f is_ch=%t",
			n.NodeID, n.RSSIEWMA, n.Score, n.Battery, n.Trust, n.LinkQuality, n.IsCH))
	}
	return out
}
