// Package hailuo provides a Go client for the Hailuo conversational AI
// web API.
//
// This is an unofficial client: it authenticates with a user credential
// (the web session token) rather than an API key. The client registers a
// device identity per credential on first use and signs every request with
// the canonical device query string and a content checksum, the way the
// web frontend does.
//
// # Basic Usage
//
//	client := hailuo.NewClient()
//
//	for ev, err := range client.Chat.CreateMessageStream(ctx, credential, &hailuo.MessageRequest{
//	    Content: "Hello!",
//	}) {
//	    if err != nil {
//	        return err
//	    }
//	    // ev is one raw upstream message event
//	}
//
// Raw events carry cumulative, not incremental, content; see the transcode
// package for turning them into an ordered delta stream.
//
// # Device identities
//
// Device registrations are cached per credential with a fixed TTL and
// coalesced, so concurrent calls issue at most one registration per
// credential. Pass WithDeviceStore to persist identities across restarts.
//
// # Error Handling
//
//	if e, ok := hailuo.AsError(err); ok {
//	    if e.Retryable() {
//	        // transport or protocol failure, safe to retry
//	    }
//	}
package hailuo
