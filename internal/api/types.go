package api

import "github.com/vietphim/catalogd/internal/catalog"

type itemsResponse struct {
	Items []catalog.Item `json:"items"`
	Count int            `json:"count"`
}

type itemResponse struct {
	Item     catalog.Item      `json:"item"`
	Episodes []catalog.Episode `json:"episodes"`
}
