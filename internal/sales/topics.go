package sales

// TopicSales carries SaleCreated events keyed by sale id.
const TopicSales = "sales"
