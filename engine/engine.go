package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Knetic/govaluate"
	log "github.com/sirupsen/logrus"

	"github.com/wsncoord/clusterengine/beacon"
	"github.com/wsncoord/clusterengine/election"
	"github.com/wsncoord/clusterengine/metrics"
	"github.com/wsncoord/clusterengine/neighbor"
	"github.com/wsncoord/clusterengine/persist"
	"github.com/wsncoord/clusterengine/radio"
	"github.com/wsncoord/clusterengine/scheduler"
	"github.com/wsncoord/clusterengine/statemachine"
	"github.com/wsncoord/clusterengine/timebase"
)

// chScoreHysteresis is the conflict-resolution margin used by CheckYield:
// below it, two CH scores are treated as tied and the lower node_id wins.
const chScoreHysteresis = 0.01

// persistFlushIntervalMs is how often uptime is flushed to persistence.
const persistFlushIntervalMs = 60_000

// scheduleBuildIntervalUs is the CH scheduling task's period.
const scheduleBuildIntervalUs = 10_000_000

// Engine owns every per-node collaborator and is instantiated once at
// startup. It implements statemachine.Collaborators and radio.PowerObserver
// directly, so the state machine and the power-management collaborator talk
// to the engine itself rather than to package-level globals.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	clock       *timebase.Timebase
	persistence *persist.Adaptor
	driver      radio.Driver

	metricsEngine   *metrics.Engine
	neighbors       *neighbor.Table
	stateMachine    *statemachine.Machine
	schedulerMember *scheduler.Member

	reelectExpr *govaluate.EvaluableExpression

	seqCounter          uint8
	lastTickNowMs       int64
	lastPersistMs       int64
	lastScheduleBuildUs int64
	startMonotonicMs    int64
	uptimeBaseSeconds   uint64
}

// New constructs an Engine from cfg, overlaying any persisted configuration
// surface values from store, and wires driver's ingress callbacks directly
// to the engine's own handlers.
func New(cfg Config, clock *timebase.Timebase, store persist.KV, driver radio.Driver) *Engine {
	adaptor := persist.NewAdaptor(store)
	cfg = loadPersistedConfig(cfg, adaptor)
	cfg.BeaconOffsetMs = derivedBeaconOffsetMs(cfg.Addr, cfg.BeaconOffsetMs)

	me := metrics.NewEngine(cfg.Metrics)
	uptimeBase := adaptor.UptimeSeconds()
	// Until the power-management collaborator pushes a reading, the node is
	// treated as externally powered (battery 1.0) so it does not start out
	// battery-critical.
	me.SetBattery(0, true)
	me.SetUptimeSeconds(float64(uptimeBase))

	nowMs := clock.NowMonotonicMillis()

	e := &Engine{
		cfg:                 cfg,
		clock:               clock,
		persistence:         adaptor,
		driver:              driver,
		metricsEngine:       me,
		neighbors:           neighbor.NewTable(cfg.NodeID, cfg.Neighbor),
		schedulerMember:     scheduler.NewMember(),
		lastTickNowMs:       nowMs,
		startMonotonicMs:    nowMs,
		uptimeBaseSeconds:   uptimeBase,
		lastPersistMs:       nowMs,
		lastScheduleBuildUs: clock.NowMonotonicMicros() - scheduleBuildIntervalUs,
	}
	e.stateMachine = statemachine.New(e, cfg.StateMachine, nowMs)
	if cfg.ReelectIfExpr != "" {
		expr, err := govaluate.NewEvaluableExpression(cfg.ReelectIfExpr)
		if err != nil {
			log.Warningf("engine: reelect_if expression %q is invalid, ignoring: %v", cfg.ReelectIfExpr, err)
		} else {
			e.reelectExpr = expr
		}
	}

	driver.OnBeacon(e.HandleBeaconIngress)
	driver.OnRecv(e.HandleRecv)
	return e
}

// --- statemachine.Collaborators ---

// SelfNodeID implements statemachine.Collaborators.
func (e *Engine) SelfNodeID() uint32 {
	return e.cfg.NodeID
}

// HasValidCH implements statemachine.Collaborators.
func (e *Engine) HasValidCH(nowMs int64) bool {
	return e.neighbors.GetCurrentCH(nowMs) != 0
}

// RunElection implements statemachine.Collaborators: it builds the candidate
// set from self plus in-cluster neighbors, refreshes self's Pareto rank
// against that set, and runs the configured selection procedure.
func (e *Engine) RunElection() uint32 {
	e.mu.Lock()
	nodeID, radius, trustFloor := e.cfg.NodeID, e.cfg.ClusterRadiusRSSI, e.cfg.TrustFloor
	stellarEnabled, stellarCfg := e.cfg.Metrics.StellarEnabled, e.cfg.Metrics.Stellar
	e.mu.Unlock()

	neighborsSnapshot := e.neighbors.GetAll(0)
	self := e.metricsEngine.GetCurrent()
	candidates := election.BuildCandidates(nodeID, self, neighborsSnapshot, radius, trustFloor)

	rank := election.SelfParetoRank(candidates, stellarCfg, nodeID)
	e.metricsEngine.SetParetoRank(rank)

	self = e.metricsEngine.GetCurrent()
	candidates = election.BuildCandidates(nodeID, self, neighborsSnapshot, radius, trustFloor)
	return election.Run(candidates, stellarEnabled, stellarCfg)
}

// CheckYield implements statemachine.Collaborators: the conflict-resolution
// rule for two simultaneously-announcing CHs, where the lower score yields
// and the lower node_id wins ties.
func (e *Engine) CheckYield(nowMs int64) bool {
	chID := e.neighbors.GetCurrentCH(nowMs)
	if chID == 0 {
		return false
	}
	e.mu.Lock()
	selfNodeID := e.cfg.NodeID
	e.mu.Unlock()

	self := e.metricsEngine.GetCurrent()
	for _, n := range e.neighbors.GetAll(0) {
		if n.NodeID != chID {
			continue
		}
		diff := n.Score - self.CompositeScore
		if diff > chScoreHysteresis {
			return true
		}
		if diff >= -chScoreHysteresis && n.NodeID < selfNodeID {
			return true
		}
		return false
	}
	return false
}

// CheckReelectionNeeded implements statemachine.Collaborators. As CH, it
// checks the fixed floors plus the optional reelect_if override; as Member,
// it fires whenever the neighbor table no longer holds a valid CH.
func (e *Engine) CheckReelectionNeeded(isCH bool) bool {
	e.mu.Lock()
	trustFloor, linkFloor, battFloor := e.cfg.TrustFloor, e.cfg.LinkQualityFloor, e.cfg.BatteryLowThreshold
	nowMs := e.lastTickNowMs
	expr := e.reelectExpr
	e.mu.Unlock()

	if isCH {
		self := e.metricsEngine.GetCurrent()
		if self.Battery < battFloor || self.Trust < trustFloor || self.LinkQuality < linkFloor {
			return true
		}
		return evalReelectIf(expr, self)
	}
	return e.neighbors.GetCurrentCH(nowMs) == 0
}

// BatteryCritical implements statemachine.Collaborators.
func (e *Engine) BatteryCritical() bool {
	e.mu.Lock()
	floor := e.cfg.CriticalBatteryFloor
	e.mu.Unlock()
	return e.metricsEngine.GetCurrent().Battery < floor
}

// evalReelectIf evaluates the operator-supplied reelect_if expression
// against the current snapshot. A nil expression or an evaluation error
// (e.g. the expression references a parameter that doesn't resolve to a
// bool) is treated as "no additional trigger", never a false positive.
func evalReelectIf(expr *govaluate.EvaluableExpression, s metrics.Snapshot) bool {
	if expr == nil {
		return false
	}
	params := map[string]interface{}{
		"battery":      s.Battery,
		"trust":        s.Trust,
		"link_quality": s.LinkQuality,
		"uptime":       s.UptimeSeconds,
		"score":        s.CompositeScore,
	}
	result, err := expr.Evaluate(params)
	if err != nil {
		log.Warningf("engine: reelect_if evaluation failed, ignoring: %v", err)
		return false
	}
	triggered, ok := result.(bool)
	return ok && triggered
}

// --- radio.PowerObserver ---

// SetBatteryPct implements radio.PowerObserver.
func (e *Engine) SetBatteryPct(pct uint8, externalPower bool) {
	e.metricsEngine.SetBattery(float64(pct)/100.0, externalPower)
}

// --- radio ingress ---

// HandleBeaconIngress is wired to radio.Driver.OnBeacon. It decodes and
// authenticates the advertisement, records the HMAC outcome regardless of
// success, and on success folds the observation into the neighbor table and
// the RSSI EWMA. An authentication failure never touches the neighbor
// table.
func (e *Engine) HandleBeaconIngress(rawAdv []byte, rssiDBm float64, srcAddr [6]byte) {
	e.mu.Lock()
	nodeID, key := e.cfg.NodeID, e.cfg.ClusterKey
	e.mu.Unlock()

	b, ok := beacon.DecodeAndValidate(rawAdv, nodeID, key)
	e.metricsEngine.RecordHMACSuccess(ok)
	if !ok {
		return
	}

	nowMs := e.clock.NowMonotonicMillis()
	// Uptime has no wire representation in the 20-byte beacon payload, so
	// remote neighbor entries carry 0 for it; only self's own uptime (fed
	// via TickMetrics) is meaningful to election.
	missed, accepted := e.neighbors.Update(b.NodeID, srcAddr, rssiDBm, float64(b.Score), b.Battery, 0, b.Trust, b.LinkQuality, b.IsCH, b.SeqNum, nowMs)
	if !accepted {
		return
	}
	e.metricsEngine.RecordBLEReception(1, missed)
	e.metricsEngine.UpdateRSSI(rssiDBm)
}

// HandleRecv is wired to radio.Driver.OnRecv. The only unicast payload this
// engine expects is a CH's schedule frame; anything else (wrong size, bad
// magic) is silently discarded.
func (e *Engine) HandleRecv(srcAddr [6]byte, payload []byte) {
	f, ok := scheduler.Decode(payload)
	if !ok {
		return
	}
	e.schedulerMember.SetSchedule(f, e.clock.NowMonotonicMicros())
}

// --- periodic tasks ---

// nextSeq returns the next beacon sequence number, rolling mod 256.
func (e *Engine) nextSeq() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.seqCounter
	e.seqCounter++
	return s
}

// refreshAdvertisement re-encodes the current self snapshot into the
// advertisement payload and pushes it to the radio driver.
func (e *Engine) refreshAdvertisement() {
	self := e.metricsEngine.GetCurrent()
	e.mu.Lock()
	nodeID, key, addr := e.cfg.NodeID, e.cfg.ClusterKey, e.cfg.Addr
	e.mu.Unlock()

	isCH := e.stateMachine.State() == statemachine.StateCH
	seq := e.nextSeq()
	addrTail := uint16(addr[4])<<8 | uint16(addr[5])
	b := beacon.Beacon{
		NodeID:      nodeID,
		Score:       float32(self.CompositeScore),
		Battery:     self.Battery,
		Trust:       self.Trust,
		LinkQuality: self.LinkQuality,
		IsCH:        isCH,
		SeqNum:      seq,
	}
	if err := e.driver.AdvertiseSet(beacon.Encode(b, addrTail, seq, key)); err != nil {
		log.Warningf("engine: advertise_set failed, next tick retries: %v", err)
	}
}

// onStateTransition applies the radio side effects of a state machine role
// change: entering SLEEP stops advertising and scanning and drops any cached
// schedule; entering CH, or falling back from CH to MEMBER, also drops the
// cached schedule. Scanning is left running in every other role.
func (e *Engine) onStateTransition(prev, next statemachine.State) {
	log.Infof("engine: node %d role %s -> %s", e.SelfNodeID(), prev, next)
	switch next {
	case statemachine.StateSleep:
		if err := e.driver.AdvertiseStop(); err != nil {
			log.Warningf("engine: advertise_stop failed: %v", err)
		}
		if err := e.driver.ScanStop(); err != nil {
			log.Warningf("engine: scan_stop failed: %v", err)
		}
		e.schedulerMember.ClearSchedule()
	case statemachine.StateCH:
		e.schedulerMember.ClearSchedule()
	case statemachine.StateMember:
		if prev == statemachine.StateCH {
			e.schedulerMember.ClearSchedule()
		}
	}
	e.refreshAdvertisement()
}

// TickStateMachine drives the ~100ms T1 task.
func (e *Engine) TickStateMachine(nowMs int64) statemachine.State {
	e.mu.Lock()
	e.lastTickNowMs = nowMs
	e.mu.Unlock()

	prev := e.stateMachine.State()
	next := e.stateMachine.Tick(nowMs)
	if next != prev {
		e.onStateTransition(prev, next)
	}
	return next
}

// TickMetrics drives the ~1s T2 task: weight adaptation, centrality inputs,
// stale-neighbor eviction, uptime tracking, and a periodic persistence
// flush.
func (e *Engine) TickMetrics(nowMs int64) {
	e.mu.Lock()
	stellarEnabled, capacity := e.cfg.Metrics.StellarEnabled, e.cfg.Neighbor.Capacity
	duePersist := nowMs-e.lastPersistMs >= persistFlushIntervalMs
	startMs, base := e.startMonotonicMs, e.uptimeBaseSeconds
	e.mu.Unlock()

	if stellarEnabled {
		e.metricsEngine.AdaptWeights()
	}
	e.metricsEngine.SetCentralityInputs(e.neighbors.Len(), capacity)

	if evicted := e.neighbors.CleanupStale(nowMs); evicted > 0 {
		log.Debugf("engine: evicted %d stale neighbor(s)", evicted)
	}

	uptimeSeconds := base + uint64((nowMs-startMs)/1000)
	e.metricsEngine.SetUptimeSeconds(float64(uptimeSeconds))
	e.refreshAdvertisement()

	if duePersist {
		e.persistence.PutUptimeSeconds(uptimeSeconds)
		e.mu.Lock()
		e.lastPersistMs = nowMs
		e.mu.Unlock()
	}
}

// TickScheduler drives the ~10s T4 task when CH (building and transmitting
// a fresh schedule) or answers the member-side decision when MEMBER. It is
// a no-op in every other state.
func (e *Engine) TickScheduler(nowUs int64) *scheduler.Decision {
	switch e.stateMachine.State() {
	case statemachine.StateCH:
		e.mu.Lock()
		due := nowUs-e.lastScheduleBuildUs >= scheduleBuildIntervalUs
		slotDurationSec := e.cfg.SlotDurationSec
		e.mu.Unlock()
		if !due {
			return nil
		}
		e.buildAndSendSchedule(nowUs, slotDurationSec)
		e.mu.Lock()
		e.lastScheduleBuildUs = nowUs
		e.mu.Unlock()
		return nil
	case statemachine.StateMember:
		d := e.schedulerMember.Decide(nowUs)
		return &d
	default:
		return nil
	}
}

func (e *Engine) buildAndSendSchedule(nowUs int64, slotDurationSec uint8) {
	neighbors := e.neighbors.GetAll(0)
	priorities := make([]scheduler.NeighborPriority, 0, len(neighbors))
	for _, n := range neighbors {
		priorities = append(priorities, scheduler.NeighborPriority{
			NodeID:      n.NodeID,
			Addr:        n.Addr,
			LinkQuality: n.LinkQuality,
			Battery:     n.Battery,
		})
	}
	for _, a := range scheduler.BuildSchedule(priorities, nowUs, slotDurationSec) {
		if err := e.driver.SendUnicast(a.Addr, scheduler.Encode(a.Frame)); err != nil {
			log.Warningf("engine: send_unicast to node_id=%d failed, next tick retries: %v", a.NodeID, err)
		}
	}
}

// Run starts the radio and blocks, driving T1-T4 on their respective
// periods until ctx is canceled. Every tick's radio I/O failure is logged
// and retried next tick, never fatal, per the transient-radio-error policy;
// only the initial advertise_start/scan_start failures are fatal, since the
// engine cannot proceed without a working radio.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.driver.AdvertiseStart(); err != nil {
		return fmt.Errorf("engine: advertise_start failed: %w", err)
	}
	if err := e.driver.ScanStart(); err != nil {
		return fmt.Errorf("engine: scan_start failed: %w", err)
	}
	e.refreshAdvertisement()

	smTicker := e.clock.NewTicker(100 * time.Millisecond)
	metricsTicker := e.clock.NewTicker(1 * time.Second)
	schedTicker := e.clock.NewTicker(time.Duration(scheduleBuildIntervalUs) * time.Microsecond)
	defer smTicker.Stop()
	defer metricsTicker.Stop()
	defer schedTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-smTicker.Chan():
			e.TickStateMachine(e.clock.NowMonotonicMillis())
		case <-metricsTicker.Chan():
			e.TickMetrics(e.clock.NowMonotonicMillis())
		case <-schedTicker.Chan():
			e.TickScheduler(e.clock.NowMonotonicMicros())
		}
	}
}

// State returns the current (non-debounced) node role.
func (e *Engine) State() statemachine.State {
	return e.stateMachine.State()
}

// VisualState returns the LED-hysteresis-debounced node role.
func (e *Engine) VisualState() statemachine.State {
	return e.stateMachine.VisualState()
}

// MetricsSnapshot returns the current self-metrics snapshot.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	return e.metricsEngine.GetCurrent()
}

// NeighborsSnapshot returns every currently tracked neighbor.
func (e *Engine) NeighborsSnapshot() []neighbor.Entry {
	return e.neighbors.GetAll(0)
}
