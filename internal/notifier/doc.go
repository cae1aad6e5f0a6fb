// Package notifier announces events that a refresh inserted.
//
// Posts go to Twitter through OAuth1, a digest goes to a Telegram chat
// through the Bot API, or the dry-run notifier prints what would be posted.
// Multi fans out to several of them. A failed announcement never affects
// the refresh that produced it.
package notifier
