// Package peersync implements the Peer Sync recovery protocol of spec.md
// §4.D: bring a local replica up to date by fetching the most recent
// updates known to a set of peers and replaying them through the local
// Update Handler.
package peersync

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shardcore/updatecore/internal/fingerprint"
	"github.com/shardcore/updatecore/internal/metrics"
	"github.com/shardcore/updatecore/internal/peertransport"
	"github.com/shardcore/updatecore/internal/updatehandler"
	"github.com/shardcore/updatecore/internal/updatelog"
)

// Config carries one sync run's parameters (spec.md §4.D "Inputs").
type Config struct {
	N                      int
	CantReachIsSuccess     bool
	GetNoVersionsIsSuccess bool
	OnlyIfActive           bool
	DoFingerprint          bool
	// MaxUpdates bounds how many individual versions or range-covered
	// versions a single sync run will request from one peer.
	MaxUpdates int
	// AllowRangeMode permits using range-mode getUpdates when a peer
	// advertises checkCanHandleVersionRanges.
	AllowRangeMode bool
	// StartingVersions is this replica's version snapshot taken before the
	// sync run began, used to detect "too many updates since start".
	StartingVersions []int64
}

// Result is the outcome of a sync run (spec.md §4.D "Result").
type Result struct {
	Success          bool
	OtherHasVersions bool
}

// Syncer runs Peer Sync against a set of peers for one shard.
type Syncer struct {
	handler *updatehandler.Handler
	log     updatelog.Log
	core    fingerprint.Core
	metrics *metrics.Metrics
	logger  logrus.FieldLogger
}

func New(handler *updatehandler.Handler, log updatelog.Log, core fingerprint.Core,
	m *metrics.Metrics, logger logrus.FieldLogger,
) *Syncer {
	return &Syncer{
		handler: handler,
		log:     log,
		core:    core,
		metrics: m,
		logger:  logger.WithField("component", "peer_sync"),
	}
}

func fail(otherHasVersions bool) Result { return Result{Success: false, OtherHasVersions: otherHasVersions} }

var success = Result{Success: true}

// Sync runs one recovery round against peers.
func (s *Syncer) Sync(ctx context.Context, peers []peertransport.Peer, cfg Config) (Result, error) {
	stop := s.metrics.PeerSyncTimer()
	defer stop()

	if len(peers) == 0 {
		return fail(false), nil
	}

	if cfg.DoFingerprint {
		inSync, err := s.probeAlreadyInSync(ctx, peers)
		if err != nil {
			s.metrics.PeerSyncError()
			return fail(false), err
		}
		if inSync {
			s.logger.Debug("fingerprint probe found a peer already in sync, skipping the rest of the protocol")
			return success, nil
		}
	}

	versionResults := s.fetchPeerVersions(ctx, peers, cfg)

	ourVersions, err := s.ourRecentVersions(cfg)
	if err != nil {
		s.metrics.PeerSyncError()
		return fail(false), errors.Wrap(err, "load our recent versions")
	}

	if len(ourVersions) == 0 {
		otherHasVersions := false
		for _, r := range versionResults {
			if r.err == nil && len(r.versions) > 0 {
				otherHasVersions = true
				break
			}
		}
		return fail(otherHasVersions), nil
	}

	ourDesc := sortedDesc(ourVersions)
	ourLowThreshold, ourHighThreshold, _ := computeThresholds(ourDesc)
	ourOldest := ourDesc[len(ourDesc)-1]

	if len(cfg.StartingVersions) > 0 {
		startingHighest := maxAbs(cfg.StartingVersions)
		if !(abs64(ourOldest) < startingHighest) {
			return fail(false), nil
		}
		ourDesc = mergeOlderStartingVersions(ourDesc, cfg.StartingVersions, ourOldest)
		ourLowThreshold, ourHighThreshold, _ = computeThresholds(ourDesc)
	}

	ourSet := toSet(ourDesc)

	var deferred []deferredPeer

	for _, r := range versionResults {
		if r.err != nil {
			if isUnreachable(r.err) && cfg.CantReachIsSuccess {
				continue
			}
			s.metrics.PeerSyncError()
			return fail(false), nil
		}

		if len(r.versions) == 0 {
			if cfg.GetNoVersionsIsSuccess {
				continue
			}
			return fail(false), nil
		}

		peerDesc := sortedDesc(r.versions)
		otherLow, otherHigh, _ := computeThresholds(peerDesc)
		// completeList: the peer returned fewer versions than requested, so
		// its list is its entire history and the low-threshold early-stop
		// must not suppress genuinely missing old updates (spec.md §4.D).
		completeList := len(r.versions) < cfg.N

		if ourHighThreshold < otherLow {
			// our window is strictly older than the peer's: we cannot catch up safely.
			return fail(false), nil
		}
		if ourLowThreshold > otherHigh {
			// our window is strictly newer: the peer is the one out of sync.
			continue
		}

		canRanges := cfg.AllowRangeMode && r.canHandleRanges

		var spec peertransport.UpdatesSpec
		var ok bool
		if canRanges {
			spec, ok = buildRangeSpec(peerDesc, ourSet, ourLowThreshold, cfg.MaxUpdates, completeList)
		} else {
			spec, ok = buildIndividualSpec(peerDesc, ourSet, ourLowThreshold, cfg.MaxUpdates, completeList)
		}

		if !ok {
			s.metrics.PeerSyncError()
			return fail(false), nil
		}
		if len(spec.Versions) == 0 && len(spec.Ranges) == 0 {
			if cfg.DoFingerprint && r.fp != nil {
				deferred = append(deferred, deferredPeer{peer: r.peer, fp: *r.fp})
			}
			continue
		}

		updates, err := r.peer.GetUpdates(ctx, spec, cfg.DoFingerprint)
		if err != nil {
			s.metrics.PeerSyncError()
			return fail(false), errors.Wrapf(err, "getUpdates from peer %s", r.peer.Name())
		}

		if err := s.replay(ctx, updates.Records); err != nil {
			s.metrics.PeerSyncError()
			return fail(false), errors.Wrapf(err, "replay updates from peer %s", r.peer.Name())
		}

		if cfg.DoFingerprint && updates.Fingerprint != nil {
			deferred = append(deferred, deferredPeer{peer: r.peer, fp: *updates.Fingerprint})
		}
	}

	for _, d := range deferred {
		ours := fingerprint.Compute(s.core, d.fp.MaxVersion)
		if !ours.Equals(d.fp) {
			s.metrics.PeerSyncError()
			return fail(false), nil
		}
	}

	return success, nil
}

// probeAlreadyInSync implements step 1: if any peer's unbounded fingerprint
// matches ours, we are already in sync and the rest of the protocol can be
// skipped.
func (s *Syncer) probeAlreadyInSync(ctx context.Context, peers []peertransport.Peer) (bool, error) {
	ours := fingerprint.Compute(s.core, -1)

	type probeResult struct {
		fp  fingerprint.Fingerprint
		err error
	}
	responses := make(chan probeResult, len(peers))
	var g errgroup.Group
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			fp, err := peer.GetFingerprint(ctx, -1)
			responses <- probeResult{fp: fp, err: err}
			return nil
		})
	}
	go func() { g.Wait(); close(responses) }()

	matched := false
	unreachableCount := 0
	total := 0
	for r := range responses {
		total++
		if r.err != nil {
			unreachableCount++
			continue
		}
		if ours.Equals(r.fp) {
			matched = true
		}
	}
	if matched {
		return true, nil
	}
	if unreachableCount == total {
		s.metrics.PeerSyncSkipped(total)
	}
	return false, nil
}

type peerVersions struct {
	peer            peertransport.Peer
	versions        []int64
	fp              *fingerprint.Fingerprint
	canHandleRanges bool
	err             error
}

// fetchPeerVersions fires getVersions (and, when the caller allows range
// mode, checkCanHandleVersionRanges) at every peer concurrently and
// returns results in completion order, mirroring the fan-out pattern the
// update-handler's own upstream collaborators use for replica RPCs.
func (s *Syncer) fetchPeerVersions(ctx context.Context, peers []peertransport.Peer, cfg Config) []peerVersions {
	responses := make(chan peerVersions, len(peers))
	var g errgroup.Group
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			resp, err := peer.GetVersions(ctx, cfg.N, cfg.DoFingerprint)
			if err != nil {
				responses <- peerVersions{peer: peer, err: err}
				return nil
			}
			canRanges := false
			if cfg.AllowRangeMode {
				canRanges, _ = peer.CheckCanHandleVersionRanges(ctx)
			}
			responses <- peerVersions{peer: peer, versions: resp.Versions, fp: resp.Fingerprint, canHandleRanges: canRanges}
			return nil
		})
	}
	go func() { g.Wait(); close(responses) }()

	out := make([]peerVersions, 0, len(peers))
	for r := range responses {
		out = append(out, r)
	}
	return out
}

func (s *Syncer) ourRecentVersions(cfg Config) ([]int64, error) {
	records, err := s.log.GetRecentUpdates(cfg.N)
	if err != nil {
		return nil, err
	}
	versions := make([]int64, 0, len(records))
	for _, r := range records {
		versions = append(versions, int64(r.Version))
	}
	return versions, nil
}

type deferredPeer struct {
	peer peertransport.Peer
	fp   fingerprint.Fingerprint
}

func isUnreachable(err error) bool {
	var terr *peertransport.TransportError
	return errors.As(err, &terr) && terr.Class.IsUnreachable()
}
