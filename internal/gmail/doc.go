// Package gmail provides a client for the Gmail v1 API scoped to a single
// authenticated session.
//
// The client reads messages, labels and attachments and sends plain text
// mail on behalf of the "me" user. It never refreshes tokens itself: the
// *http.Client it is built from is expected to carry a credential the auth
// registry has already resolved.
//
// Example usage:
//
//	httpClient := google.NewAuthorizedClient(ctx, token)
//	client, err := gmail.NewClient(ctx, httpClient)
//	if err != nil {
//	    return err
//	}
//	msgs, err := client.ListMessages(ctx, gmail.ListOptions{Query: "is:unread"})
package gmail
