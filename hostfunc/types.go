package hostfunc

// Dataset types

type DatasetFetchRequest struct {
	Name string `json:"name"`
}
