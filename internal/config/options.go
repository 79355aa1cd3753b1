package config

// AccountAction 账户管理操作
type AccountAction string

const (
	AccountNone       AccountAction = ""
	AccountCreate     AccountAction = "create"
	AccountDeactivate AccountAction = "deactivate"
	AccountChange     AccountAction = "change"
)

// Options 命令行选项
type Options struct {
	Endpoint     string
	Certificates []string // 为空表示全部
	RenewDays    int      // 小于 0 表示未指定

	GenerateCertificateKeys bool
	GenerateAccountKeys     bool

	Account         AccountAction
	AccountEndpoint string

	DryRun   bool
	LogLevel string
}

// DefaultOptions 返回默认选项
func DefaultOptions() Options {
	return Options{RenewDays: -1, LogLevel: "info"}
}
