// Package telegram connects the transcriber to Telegram.
//
// The bot accepts voice notes, audio files, documents, videos and video
// notes. In sync mode it recognizes the clip in process and streams the
// transcript back as replies that grow by editing. In durable mode it
// submits a workflow run carrying the chat coordinates as metadata and
// delivers the transcript when the run's completion callback arrives.
package telegram
