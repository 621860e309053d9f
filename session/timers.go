// Copyright 2026 R5 Labs
// This file is part of the lp2p library.
//
// This software is provided "as is", without warranty of any kind,
// express or implied, including but not limited to the warranties
// of merchantability, fitness for a particular purpose and
// noninfringement. In no event shall the authors or copyright
// holders be liable for any claim, damages, or other liability,
// whether in an action of contract, tort or otherwise, arising
// from, out of or in connection with the software or the use or
// other dealings in the software.

package session

import (
	"context"
	"math/rand"
	"time"

	"github.com/r5-labs/lp2p/common/mclock"
	"github.com/r5-labs/lp2p/transport"
)

// scheduleRateTick arms the recurring rate-calculation timer: every
// rateCalculationInterval, rotate rpcCounter/messageCounter
// into their *Rates maps and zero them, and check wsMessageRate against
// wsMaxMessageRate.
func (s *Session) scheduleRateTick() {
	interval := s.deps.Config.RateCalculationInterval
	if interval <= 0 {
		return
	}
	s.rateTimer = s.deps.Clock.AfterFunc(interval, func() {
		s.deps.Actor.Run(func() {
			if s.state == Closed {
				return
			}
			s.rateTickLocked(interval)
			s.scheduleRateTick()
		})
	})
}

func (s *Session) rateTickLocked(interval time.Duration) {
	wsRate := float64(s.wsMessageCount) * 1000 / float64(interval.Milliseconds())
	s.wsMessageCount = 0
	if s.deps.Config.WSMaxMessageRate > 0 && wsRate > s.deps.Config.WSMaxMessageRate {
		s.wsMessageRate = wsRate
		s.applyPenaltyLocked(s.deps.Config.WSMaxMessageRatePenalty)
		return
	}
	s.wsMessageRate = wsRate

	for key, count := range s.rpcCounter {
		s.rpcRates[key] = float64(count) * 1000 / float64(interval.Milliseconds())
		s.rpcCounter[key] = 0
	}
	for key, count := range s.messageCounter {
		s.messageRates[key] = float64(count) * 1000 / float64(interval.Milliseconds())
		s.messageCounter[key] = 0
	}
}

// scheduleProductivityReset arms the productivity-reset timer:
// if the peer hasn't responded to anything within the last
// productivityResetInterval, zero its productivity counters.
func (s *Session) scheduleProductivityReset() {
	interval := s.deps.Config.ProductivityResetInterval
	if interval <= 0 {
		return
	}
	s.prodTimer = s.deps.Clock.AfterFunc(interval, func() {
		s.deps.Actor.Run(func() {
			if s.state == Closed {
				return
			}
			now := s.deps.Clock.Now()
			if s.productivity.LastResponded < now-mclock.AbsTime(interval) {
				s.productivity = Productivity{}
			}
			s.scheduleProductivityReset()
		})
	})
}

// schedulePing arms the inbound keep-alive: on a uniformly
// random interval in [pingIntervalMin, pingIntervalMax], ping the peer and
// record the round-trip as latency, re-scheduling regardless of outcome.
func (s *Session) schedulePing() {
	if s.kind != Inbound {
		return
	}
	lo := s.deps.Config.PingIntervalMin
	hi := s.deps.Config.PingIntervalMax
	if hi <= lo {
		hi = lo + time.Second
	}
	delay := lo + time.Duration(rand.Int63n(int64(hi-lo)))
	s.pingTimer = s.deps.Clock.AfterFunc(delay, func() {
		s.ping()
	})
}

func (s *Session) ping() {
	var conn transport.Conn
	var state State
	s.deps.Actor.RunSync(func() {
		conn = s.conn
		state = s.state
	})
	if state == Closed || conn == nil {
		return
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.Config.AckTimeout)
	_, err := conn.Request(ctx, "ping", nil)
	cancel()
	rtt := time.Since(start)
	s.deps.Actor.Run(func() {
		if s.state == Closed {
			return
		}
		if err == nil {
			s.latency = rtt
		}
		s.schedulePing()
	})
}
