package adapter

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

func ExampleAdapter() {
	a := New(WithMaxRetries(2))
	defer a.Close()

	resp, err := a.Send(context.Background(), &Request{
		Method: "GET",
		URL:    "http://www.google.com/?a=b",
		Header: http.Header{
			// "Connection": {"close"},
		},
		Timeout: SplitTimeout(3*time.Second, 10*time.Second),
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(resp.StatusCode, resp.Reason)
	fmt.Println(string(resp.Content))
}

func ExampleLoadConfig() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println(err)
		return
	}
	logger, err := NewLogger()
	if err != nil {
		fmt.Println(err)
		return
	}
	a := New(WithConfig(*cfg), WithLogger(logger))
	defer a.Close()
}
