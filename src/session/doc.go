// Package session implements the rollback session a host application drives.
//
// A Session is set up by adding players, each of them Local (sampled on this
// machine), Remote (sampled on another machine) or a Spectator (another
// machine that only watches), and then started. From then on the host calls
// AdvanceFrame, or Tick to let the session sample local inputs itself, once per
// frame of its fixed-timestep loop:
//
//  for {
//      events, err := s.Tick()
//      if err != nil {
//          // the session faulted
//      }
//      for _, e := range events {
//          switch e := e.(type) {
//          case session.FrameAdvanced:
//              render(s.State())
//          case session.TimeSync:
//              // we run ahead, skip a frame or two
//          }
//      }
//      <-ticker.C
//  }
//
// Every call drains the network (unless packets are received asynchronously),
// processes disconnections and checksum comparisons, and then lets the rollback
// scheduler advance, roll back, or stall. Remote inputs that have not arrived
// yet are predicted; when a prediction turns out wrong the scheduler restores
// the last correct snapshot and resimulates. Stalling never blocks: a stalled
// call returns immediately with a Stalled event.
//
// The session faults, and reports a single SessionFaulted event, when a
// snapshot needed for a rollback is gone, when checksums keep disagreeing with a
// peer, or when a player leaves a session configured with AllPlayersRequired.
package session
