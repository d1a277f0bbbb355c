// Package mocktracker emulates the T2SA laser-tracker application over TCP.
//
// The mock keeps a small device model: a tracker status, a laser power state
// with warm-up, and three point groups (M1M3, M2, CAM) whose current placements
// are jittered around nominal. Measurements take wall-clock time and run on
// background timers, so a client polling ?STAT sees EMP, 2FACE or DRIFT until
// they finish.
//
// Usage:
//
//	cfg, _ := mocktracker.NewServerConfig(
//	    mocktracker.WithPort(50000),
//	    mocktracker.WithMeasurementDuration(time.Second),
//	)
//	srv, _ := mocktracker.NewServer(cfg)
//	if err := srv.Start(ctx); err != nil {
//	    // handle error
//	}
//	defer srv.Stop()
package mocktracker
