// Package telegram is the chat-bot command channel.
//
// The bot long-polls the Telegram Bot API with plain HTTP; the surface is
// four commands and doesn't warrant a framework dependency:
//
//	/auth <password>            authorize this chat
//	/light <place> <on|off>     switch a light
//	/status <place>             read a device or sensor
//	/script <name>              run a scenario
//
// Commands go through the router like every other channel, so ambiguous
// references come back as a candidate list the user can answer with a more
// specific name. The bot also implements audit.Notifier: failed actions
// from other channels are pushed to the configured operator chat.
package telegram
