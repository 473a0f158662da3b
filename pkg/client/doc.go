/*
Package client is a small Go client for the local Lanlink HTTP API.

The lanlink CLI uses it for every command except serve and config. Each
method maps onto one /v1 route and unwraps the response envelope:

	c := client.NewClient("127.0.0.1:5645")
	ok, err := c.StartWorker(ctx, "fileserver", map[string]string{"path": "/srv/share"})

	members, err := c.Members(ctx)
	for _, m := range members {
		fmt.Println(m.Address, m.Name, m.Mode)
	}

API failures come back as *client.Error carrying the HTTP status and the
server's error string. Transport failures are wrapped with the API address.
*/
package client
