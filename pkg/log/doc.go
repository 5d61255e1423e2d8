/*
Package log provides structured logging for controld using zerolog.

The log package wraps zerolog to give every subsystem a component-scoped
child logger with a consistent set of fields (node_id, peer_id, graph_id,
device_id) so a single log stream can be filtered down to one transition
graph, one fencing device, or one peer without grepping free text.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("transition")
	logger.Info().Int("graph_id", graph.ID).Msg("batch limit reached")
*/
package log
