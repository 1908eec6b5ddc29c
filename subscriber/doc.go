// Package subscriber implements the subscribing side of a TCPROS topic
// connection.
//
// A Subscriber dials a publisher that has already been located, sends its
// connection header (callerid, topic, md5sum, type), waits a bounded time for
// the publisher's header and checks topic, type and md5sum against the
// message codec it was built with. On success Start returns a Stream that
// decodes each following frame into a typed message.
//
//	sub := subscriber.New("/listener", "/chatter", msgs.String{}, subscriber.WithLogger(logger))
//	defer sub.Close()
//	stream, err := sub.Start(ctx, subscriber.ConnectionParams{Host: "talker", Port: 40123})
//	if err != nil {
//		return err
//	}
//	for msg, err := range stream.All(ctx) {
//		...
//	}
//
// Failures are *Error values carrying a code; compare with errors.Is against
// the Err* sentinels. Nothing is retried here.
package subscriber
