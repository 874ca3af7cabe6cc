// Package discord presents approval proposals in a Discord channel.
//
// Each proposal becomes an embed with ✅ ❌ 🔄 reactions. The first human
// reaction signals the waiting notifier; the tally reads every reaction on
// the message at that moment.
package discord
