// Package completion is the boundary to remote completion APIs.
//
// A Client sends one Request and returns a Stream of Chunks; the stream ends
// with io.EOF. Anthropic and OpenAI stream from their SDKs, Scripted replays
// canned replies for tests and offline use.
//
// Usage:
//
//	client, _ := completion.NewFromProfile(completion.Profile{Provider: "anthropic", APIKey: key})
//	stream, _ := client.Send(ctx, completion.Request{Messages: msgs})
//	defer stream.Close()
//	for {
//		chunk, err := stream.Next()
//		if err == io.EOF {
//			break
//		}
//		...
//	}
package completion
