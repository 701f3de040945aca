package gateway

// HomePage is served on GET /.
const HomePage = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Genomic Data Query Interface</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; background: #f5f5f5; }
        .container { max-width: 800px; margin: 0 auto; background: white; padding: 30px; border-radius: 10px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
        h1 { color: #2c3e50; text-align: center; }
        .endpoint { background: #ecf0f1; padding: 15px; margin: 10px 0; border-radius: 5px; }
        .status { color: #27ae60; font-weight: bold; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Genomic Data Query Interface</h1>
        <p class="status">Service is running.</p>
        <h2>Available Endpoints:</h2>
        <div class="endpoint"><strong>Home:</strong> / (GET) - This page</div>
        <div class="endpoint"><strong>Health Check:</strong> /api/health (GET) - API status</div>
        <div class="endpoint"><strong>Query Data:</strong> /api/query (POST) - Submit queries</div>
    </div>
</body>
</html>
`
