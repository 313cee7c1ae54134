// Package events defines the normalized event contract of the relay engine.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - transcript.*
//   - turn_state.*
//   - assistant_response.*
//   - utterance.*
//
// Semantics used across the package:
//
//   - Delta: append-only provisional text fragment emitted in stream order.
//   - Completed: authoritative terminal transcript for an item.
//   - Failed: authoritative terminal failure for an item.
//   - Provisional: locally computed stand-in for a transcript that has not
//     received its authoritative result yet.
//   - Finalized: the value of record for an item, emitted once.
//
// transcript events (inbound)
//
//   - DeltaReceived (transcript.delta_received): provisional text fragment,
//     the item identifier may not be known yet.
//   - TranscriptionCompleted (transcript.completed): authoritative transcript.
//   - TranscriptionFailed (transcript.failed): authoritative failure with the
//     reason reported by the remote session.
//
// turn_state events (inbound)
//
//   - TurnStarted (turn_state.started): a speaker took the floor with a new
//     item.
//
// assistant_response events (inbound)
//
//   - ResponseStarted (assistant_response.started): the remote session began
//     generating a response. Item identifier is optional.
//
// utterance events (outbound)
//
//   - UtteranceProvisional (utterance.provisional): an utterance was force
//     finalized; carries the provisional text for bookkeeping and UI.
//   - UtteranceFinalized (utterance.finalized): value of record for an item,
//     tagged authoritative or degraded.
//   - UtteranceRelayed (utterance.relayed): relay to the backend resolved.
package events
