package client

// Viewport models the scroll state of a conversation pane. Offset is
// the distance from the top of the content to the top of the visible
// window.
type Viewport struct {
	ContentHeight float64
	Offset        float64
	WindowHeight  float64
}

// PrependContent accounts for older history inserted above the current
// content. The offset grows by exactly the added height, so whatever
// the user was looking at stays put.
func (v *Viewport) PrependContent(addedHeight float64) {
	if addedHeight <= 0 {
		return
	}
	v.ContentHeight += addedHeight
	v.Offset += addedHeight
}

// AppendContent accounts for new messages arriving below. The offset is
// untouched; only a viewport already pinned to the bottom follows them.
func (v *Viewport) AppendContent(addedHeight float64) {
	if addedHeight <= 0 {
		return
	}
	pinned := v.AtBottom()
	v.ContentHeight += addedHeight
	if pinned {
		v.ScrollToBottom()
	}
}

// AtBottom reports whether the window shows the newest content.
func (v *Viewport) AtBottom() bool {
	return v.Offset+v.WindowHeight >= v.ContentHeight
}

func (v *Viewport) ScrollToBottom() {
	v.Offset = v.ContentHeight - v.WindowHeight
	if v.Offset < 0 {
		v.Offset = 0
	}
}
