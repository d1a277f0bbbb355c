// Package t2sa implements a client for the T2SA laser tracker application.
//
// T2SA speaks a line oriented ASCII protocol over TCP. Every command is one
// CRLF terminated line such as "!CMDEXE:M1M3" or "?POS M2", and every reply is
// one CRLF terminated line of one of three shapes:
//
//	ACK-300 <body>    success
//	ERR-<code> <body> failure, see ErrorCode
//	EMP               bare status token, only in answer to ?STAT
//
// The Client serializes exchanges so that only one command is in flight, waits
// for the tracker to become idle before measurement commands, and classifies
// failures into DeviceError, ProtocolError and ConnError.
//
// Basic usage:
//
//	cfg, err := t2sa.NewClientConfig("192.168.1.10", 50000,
//		t2sa.WithReadTimeout(60*time.Second),
//		t2sa.WithReadyTimeout(5*time.Minute),
//	)
//	if err != nil {
//		return err
//	}
//	client, err := t2sa.NewClient(cfg)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Disconnect(ctx)
//
//	if _, err := client.MeasureTarget(ctx, "M2"); err != nil {
//		return err
//	}
//	pos, err := client.TargetPosition(ctx, "M2")
package t2sa
