package t2sa

import "sync/atomic"

// ClientMetrics contains atomic metrics for a client.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ClientMetrics struct {
	// CommandSendCount indicates the number of command lines written, status polls included.
	CommandSendCount atomic.Uint64
	// AckCount indicates the number of ACK replies received.
	AckCount atomic.Uint64
	// DeviceErrCount indicates the number of ERR replies received.
	DeviceErrCount atomic.Uint64
	// ProtocolErrCount indicates the number of unparseable or unexpected replies.
	ProtocolErrCount atomic.Uint64
	// ConnErrCount indicates the number of connectivity faults.
	ConnErrCount atomic.Uint64
	// StatusPollCount indicates the number of status polls issued by wait-for-ready loops.
	StatusPollCount atomic.Uint64
	// ReadinessTimeoutCount indicates the number of wait-for-ready loops that gave up.
	ReadinessTimeoutCount atomic.Uint64
	// ConnectCount indicates the number of successful connects.
	ConnectCount atomic.Uint64

	// InflightGauge is 1 while a command holds the communication lock.
	InflightGauge atomic.Int32
}

func (m *ClientMetrics) incCommandSendCount()      { m.CommandSendCount.Add(1) }
func (m *ClientMetrics) incAckCount()              { m.AckCount.Add(1) }
func (m *ClientMetrics) incDeviceErrCount()        { m.DeviceErrCount.Add(1) }
func (m *ClientMetrics) incProtocolErrCount()      { m.ProtocolErrCount.Add(1) }
func (m *ClientMetrics) incConnErrCount()          { m.ConnErrCount.Add(1) }
func (m *ClientMetrics) incStatusPollCount()       { m.StatusPollCount.Add(1) }
func (m *ClientMetrics) incReadinessTimeoutCount() { m.ReadinessTimeoutCount.Add(1) }
func (m *ClientMetrics) incConnectCount()          { m.ConnectCount.Add(1) }
