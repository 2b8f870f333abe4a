package config

import "cmdgate/internal/domain"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Store: StoreConfig{
			DBPath: "~/.cmdgate/cmdgate.db",
		},
		Rules: RulesConfig{
			DefaultAction: string(domain.ActionRequireApproval),
		},
		Credits: CreditsConfig{
			MemberCredits: 100,
			AdminCredits:  1000,
			CommandCost:   1,
		},
		Executor: ExecutorConfig{
			Mode:           "simulate",
			TimeoutSeconds: 30,
			MaxOutputBytes: 65536,
		},
		Notify: NotifyConfig{
			BufferSize: 16,
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		Admin: AdminConfig{
			Name: "admin",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
