package models

// Cookie is one browser cookie as exchanged with the import endpoint and
// the per-provider session store. Field names follow the browser-extension
// export format so exported JSON can be posted as-is.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
	Expires  float64 `json:"expires"`
	SameSite string  `json:"sameSite,omitempty"`
}

// StorageItem is one localStorage entry.
type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Origin carries the localStorage of one web origin.
type Origin struct {
	Origin       string        `json:"origin"`
	LocalStorage []StorageItem `json:"localStorage"`
}

// StorageState is what gets persisted per provider between sessions:
// cookies plus per-origin localStorage, so state like age gates and
// feature flags survives alongside the auth cookies.
type StorageState struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins,omitempty"`
}
