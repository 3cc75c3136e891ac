// Package display 将链上执行结果渲染为面向用户的文本：
// 提取交易哈希、按链 ID 附加区块浏览器链接，并为各类失败给出统一提示。
package display
