package models

type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Question struct {
	ID      int      `json:"id,omitempty"`
	Text    string   `json:"text"`
	Options []Option `json:"options"`
}

// Option looks up an option by id.
func (q *Question) Option(id string) (Option, bool) {
	if q == nil {
		return Option{}, false
	}
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}
