// Package fluffle implements a Discord bot built around a small command
// framework.
//
// Commands are assembled with builders, and registered with Discord
// through the bot's [CommandRegistry]:
//
//   - SlashCommand: a chat input command, with options, or subcommands
//     and subcommand groups
//   - Subcommand and SubcommandGroup: nested slash command routes
//   - ContextMenuCommand: a user or message context menu command
//
// Cross-cutting behavior is added by wrapping commands and triggers in
// proxies, such as [WithRateLimit] and [WithPermissions].
//
// Key components of the package include:
//
//   - Fluffle: receives interactions (over the gateway, or as webhook
//     POSTs verified with the application's public key), and dispatches
//     them to commands. Regular messages are forwarded to triggers.
//   - ChannelSettings: per-guild channel whitelists and blacklists,
//     which decide where commands and triggers are allowed.
//   - CommandManager: compares local commands with those registered
//     with Discord, and registers, renames or deletes them.
//   - API: an optional admin API for changing runtime settings,
//     pausing the bot, and managing channel lists.
//
// Runtime settings (log levels, user-facing messages, the paused state)
// are stored in the database, and can be changed while the bot runs.
package fluffle
