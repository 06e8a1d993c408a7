// Package colbot implements a Discord bot that runs a community voting
// workflow for pending COOL levels.
//
// Managers accept forum threads into a pending list, members with the
// voting role score each pending level on song, design and vibe, and
// the averaged results are ranked, exported and eventually removed or
// reset.
//
// Key components of the package include:
//
//   - Bot: Wires discord, the store and the HTTP API together, and owns startup and shutdown.
//   - Workflows: The accept, vote, ranking, removal, revote, verify and say operations.
//   - Guard: Role and channel checks for every operation.
//   - Registry and Ledger: The pending level list, and serialized load-mutate-save cycles over it.
//   - Gateway: Persistence over a primary backend (Google Docs, Redis or a SQL database) with a local file fallback.
//   - API: Uptime, health, level and ranking endpoints, plus prometheus metrics.
//
// The bot supports these commands:
//
//   - /vote: Pick a pending level and submit scores through a modal.
//   - /list: Show the current ranking.
//   - /verifyme: Grant the next verification role.
//   - !accept, !remove, !revote, !saveranked and !say for managers.
package colbot
