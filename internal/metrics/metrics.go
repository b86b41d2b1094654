package metrics

import "expvar"

// 集群计数器，通过 /debug/vars 暴露
var (
	ConnectAttempts    = expvar.NewInt("fleet_connect_attempts")
	ConnectFailures    = expvar.NewInt("fleet_connect_failures")
	Logins             = expvar.NewInt("fleet_logins")
	Disconnects        = expvar.NewInt("fleet_disconnects")
	ReconnectScheduled = expvar.NewInt("fleet_reconnects_scheduled")
	CommandsDispatched = expvar.NewInt("fleet_commands_dispatched")
	CommandsFailed     = expvar.NewInt("fleet_commands_failed")
	FanOutSkipped      = expvar.NewInt("fleet_fanout_skipped")
	LogEntries         = expvar.NewInt("fleet_log_entries")
	EventsDropped      = expvar.NewInt("fleet_events_dropped")
	WSClients          = expvar.NewInt("api_ws_clients")
	InterpreterReplies = expvar.NewInt("interpreter_replies")
)
