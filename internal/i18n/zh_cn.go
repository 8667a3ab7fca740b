package i18n

// ZhCNMessages 简体中文消息目录
var ZhCNMessages = map[string]string{
	// 文件读取
	"read.not_found": "文件不存在：%s",
	"read.denied":    "拒绝访问：%s 不是已知的会话文件",
	"read.too_large": "文件过大，无法打开（上限 %d MiB）",
	"read.not_text":  "不是文本文件：%s",
	"read.failed":    "读取文件失败：%s",

	// 扫描
	"scan.started":    "正在扫描会话来源...",
	"scan.done":       "扫描完成：共 %d 个会话（新增 %d，变更 %d，未变 %d），耗时 %s",
	"scan.failed":     "扫描失败：%s",
	"scan.missing":    "%d 个会话已不在磁盘上",
	"scan.no_sources": "没有启用任何会话来源",

	// 列表
	"list.empty":  "尚无会话记录，请先运行 `vault scan`。",
	"list.header": "%d 个会话",
	"list.total":  "总计：%d",

	// 搜索
	"search.empty":    "没有匹配 %q 的会话",
	"search.keyword":  "语义搜索不可用，改用关键字搜索",
	"search.embedded": "已向量化 %d 个会话",

	// 清理
	"prune.confirm": "将删除 %d 个标记为缺失的会话。加上 --yes 重新运行以确认。",
	"prune.done":    "已清理 %d 个会话",
	"prune.none":    "没有标记为缺失的会话",

	// 服务
	"server.listening": "监听 http://%s",
	"server.stopped":   "服务已停止",

	// 交互
	"shell.welcome": "会话库交互模式。输入 `help` 查看命令，`exit` 退出。",
	"shell.unknown": "未知命令：%s",
	"shell.usage":   "用法：%s",
	"shell.bye":     "再见",

	// 命令
	"cmd.scan":   "扫描来源并更新索引",
	"cmd.list":   "列出已存储的会话",
	"cmd.read":   "通过访问控制读取会话文件",
	"cmd.search": "按标题或语义搜索会话",
	"cmd.prune":  "删除标记为缺失的会话",
	"cmd.serve":  "启动 HTTP API",
	"cmd.shell":  "交互模式",
	"cmd.help":   "显示可用命令",
	"cmd.exit":   "退出交互模式",
	"cmd.init":   "生成项目配置文件",
	"cmd.status": "显示会话统计与最近同步记录",

	// Status
	"status.sources": "各来源会话数",
	"status.log":     "最近同步记录",
	"init.done":      "配置已写入 %s",

	// 错误
	"error.config": "配置错误：%s",
	"error.store":  "存储错误：%s",
}
