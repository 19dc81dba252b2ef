package remote

// Endpoints lists the remote service URLs the pipeline talks to.
type Endpoints struct {
	InitialAuth string `env:"INITIAL_AUTH" envDefault:"https://as.hypergryph.com/user/auth/v1/token_by_phone_password" json:"initial_auth"`
	WarmUp      string `env:"CSRF" envDefault:"https://ak.hypergryph.com/user" json:"csrf"`
	AppToken    string `env:"APP_TOKEN" envDefault:"https://as.hypergryph.com/user/oauth2/v2/grant" json:"app_token"`
	BindingList string `env:"BINDING_LIST" envDefault:"https://binding-api-account-prod.hypergryph.com/account/binding/v1/binding_list" json:"binding_list"`
	DeviceToken string `env:"U8_TOKEN" envDefault:"https://binding-api-account-prod.hypergryph.com/account/binding/v1/u8_token_by_uid" json:"u8_token"`
	RoleLogin   string `env:"ROLE_LOGIN" envDefault:"https://ak.hypergryph.com/user/api/role/login" json:"role_login"`
	Categories  string `env:"GACHA_CATE" envDefault:"https://ak.hypergryph.com/user/api/inquiry/gacha/cate" json:"gacha_cate"`
	DrawRecords string `env:"GACHA_RECORDS" envDefault:"https://ak.hypergryph.com/user/api/inquiry/gacha/history" json:"gacha_records"`
}

// Merge returns e with every non-empty field of o applied on top.
func (e Endpoints) Merge(o Endpoints) Endpoints {
	pick := func(cur, next string) string {
		if next != "" {
			return next
		}
		return cur
	}
	e.InitialAuth = pick(e.InitialAuth, o.InitialAuth)
	e.WarmUp = pick(e.WarmUp, o.WarmUp)
	e.AppToken = pick(e.AppToken, o.AppToken)
	e.BindingList = pick(e.BindingList, o.BindingList)
	e.DeviceToken = pick(e.DeviceToken, o.DeviceToken)
	e.RoleLogin = pick(e.RoleLogin, o.RoleLogin)
	e.Categories = pick(e.Categories, o.Categories)
	e.DrawRecords = pick(e.DrawRecords, o.DrawRecords)
	return e
}

// WithBase points every endpoint at base, keeping the default paths.
// It is meant for stub servers.
func WithBase(base string) Endpoints {
	return Endpoints{
		InitialAuth: base + "/user/auth/v1/token_by_phone_password",
		WarmUp:      base + "/user",
		AppToken:    base + "/user/oauth2/v2/grant",
		BindingList: base + "/account/binding/v1/binding_list",
		DeviceToken: base + "/account/binding/v1/u8_token_by_uid",
		RoleLogin:   base + "/user/api/role/login",
		Categories:  base + "/user/api/inquiry/gacha/cate",
		DrawRecords: base + "/user/api/inquiry/gacha/history",
	}
}
